package tikscrape_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"reelpipe/internal/config"
	"reelpipe/internal/services"
	"reelpipe/internal/services/tikscrape"
	"reelpipe/internal/testsupport"
)

func TestResolveReturnsDownloadURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-KEY"); got != "test" {
			t.Errorf("unexpected api key header %q", got)
		}
		if got := r.URL.Query().Get("url"); got != "https://www.tiktok.com/@user/video/123" {
			t.Errorf("unexpected url parameter %q", got)
		}
		testsupport.WriteJSON(t, w, map[string]any{
			"video": map[string]string{
				"downloadAddr": "https://v16.tiktokcdn.com/dl.mp4",
				"playAddr":     "https://v16.tiktokcdn.com/play.mp4",
			},
		})
	}))
	t.Cleanup(server.Close)

	client := tikscrape.NewClient(config.TikTok{APIKey: "test"}, tikscrape.WithBaseURL(server.URL))
	got, err := client.Resolve(context.Background(), "https://www.tiktok.com/@user/video/123")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "https://v16.tiktokcdn.com/dl.mp4" {
		t.Fatalf("expected download address preferred, got %q", got)
	}
}

func TestResolveFallsBackToPlayURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testsupport.WriteJSON(t, w, map[string]any{
			"video": map[string]string{"playAddr": "https://v16.tiktokcdn.com/play.mp4"},
		})
	}))
	t.Cleanup(server.Close)

	client := tikscrape.NewClient(config.TikTok{APIKey: "test"}, tikscrape.WithBaseURL(server.URL))
	got, err := client.Resolve(context.Background(), "https://www.tiktok.com/@user/video/123")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "https://v16.tiktokcdn.com/play.mp4" {
		t.Fatalf("unexpected url %q", got)
	}
}

func TestResolveErrorCases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "video not found", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := tikscrape.NewClient(config.TikTok{APIKey: "test"}, tikscrape.WithBaseURL(server.URL))

	if _, err := client.Resolve(context.Background(), ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty url, got %v", err)
	}

	unkeyed := tikscrape.NewClient(config.TikTok{}, tikscrape.WithBaseURL(server.URL))
	if _, err := unkeyed.Resolve(context.Background(), "https://www.tiktok.com/@user/video/123"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without api key, got %v", err)
	}

	if _, err := client.Resolve(context.Background(), "https://www.tiktok.com/@user/video/123"); !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected external error on http 404, got %v", err)
	}
}
