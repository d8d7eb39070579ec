package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	PriceBox PriceBoxConfig `yaml:"pricebox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	ScrapeCompletedTopicName string `yaml:"scrape_completed_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PriceBoxConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	SwaggerPath string `yaml:"swagger_path"`

	SchedulerTickSeconds int `yaml:"scheduler_tick_seconds"`
	SchedulerBatchSize   int `yaml:"scheduler_batch_size"`

	QueueConcurrency      int `yaml:"queue_concurrency"`
	QueueMaxAttempts      int `yaml:"queue_max_attempts"`
	QueueBackoffBaseMs    int `yaml:"queue_backoff_base_ms"`
	RateLimitPerMinute    int `yaml:"rate_limit_per_minute"`
	CurrentItemTTLSeconds int `yaml:"current_item_ttl_seconds"`

	// Per-marketplace requests-per-minute ceilings. Marketplaces not listed
	// fall back to rate_limit_per_minute.
	MarketplaceRatePerMinute map[string]int `yaml:"marketplace_rate_per_minute"`

	// Marketplaces whose anti-bot defenses make the rendering API the
	// preferred fetch path.
	RenderPreferredMarketplaces []string `yaml:"render_preferred_marketplaces"`

	RenderAPIBaseURL string `yaml:"render_api_base_url"`
	RenderAPIKey     string `yaml:"render_api_key"`

	// Storefront country passed to the rendering API per marketplace.
	// Marketplaces not listed render from the API's default location.
	RenderCountries map[string]string `yaml:"render_countries"`

	BrowserBinPath        string   `yaml:"browser_bin_path"`
	BrowserHeadless       *bool    `yaml:"browser_headless"`
	BrowserProxyURL       string   `yaml:"browser_proxy_url"`
	BrowserPoolSize       int      `yaml:"browser_pool_size"`
	NavigationTimeoutSecs int      `yaml:"navigation_timeout_seconds"`
	ContentWaitMillis     int      `yaml:"content_wait_millis"`
	ExtraBlockMarkers     []string `yaml:"extra_block_markers"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
