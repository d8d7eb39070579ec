package renderapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender_OK(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/render", r.URL.Path)
		gotQuery = map[string]string{
			"apiKey":    r.URL.Query().Get("apiKey"),
			"url":       r.URL.Query().Get("url"),
			"render_js": r.URL.Query().Get("render_js"),
			"country":   r.URL.Query().Get("country"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","html":"<html>rendered</html>"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	html, err := c.Render(context.Background(), "https://www.amazon.com/dp/B0ABCD1234", "us")
	require.NoError(t, err)
	require.Equal(t, "<html>rendered</html>", html)
	require.Equal(t, "secret", gotQuery["apiKey"])
	require.Equal(t, "https://www.amazon.com/dp/B0ABCD1234", gotQuery["url"])
	require.Equal(t, "true", gotQuery["render_js"])
	require.Equal(t, "us", gotQuery["country"])
}

func TestRender_OmitsEmptyCountry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.False(t, r.URL.Query().Has("country"))
		_, _ = w.Write([]byte(`{"status":"ok","html":"<html></html>"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Render(context.Background(), "https://x.example", "")
	require.NoError(t, err)
}

func TestRender_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Render(context.Background(), "https://x.example", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestRender_ServiceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","error":"target unreachable"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Render(context.Background(), "https://x.example", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "target unreachable")
}

func TestRender_EmptyHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","html":""}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "k").Render(context.Background(), "https://x.example", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty html")
}
