package late_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"reelpipe/internal/config"
	"reelpipe/internal/services"
	"reelpipe/internal/services/late"
	"reelpipe/internal/testsupport"
)

func TestCreatePost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var payload struct {
			AccountID string `json:"accountId"`
			Caption   string `json:"caption"`
			Media     []struct {
				URL  string `json:"url"`
				Type string `json:"type"`
			} `json:"media"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload.AccountID != "acct-7" {
			t.Errorf("account id = %q, want acct-7", payload.AccountID)
		}
		if len(payload.Media) != 1 || payload.Media[0].URL != "https://signed.example/out.mp4" {
			t.Errorf("unexpected media payload: %+v", payload.Media)
		}
		testsupport.WriteJSON(t, w, map[string]any{"id": "post-1", "status": "published"})
	}))
	t.Cleanup(server.Close)

	client := late.NewClient(config.Late{APIKey: "test"}, late.WithBaseURL(server.URL))
	record, err := client.CreatePost(context.Background(), late.PostRequest{
		MediaURL:  "https://signed.example/out.mp4",
		Caption:   "new drop",
		AccountID: "acct-7",
	})
	if err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
	if record.ID != "post-1" || record.Status != "published" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestCreatePostUsesDefaultAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["accountId"] != "acct-default" {
			t.Errorf("account id = %v, want acct-default", payload["accountId"])
		}
		testsupport.WriteJSON(t, w, map[string]any{"id": "post-2"})
	}))
	t.Cleanup(server.Close)

	client := late.NewClient(
		config.Late{APIKey: "test", DefaultAccountID: "acct-default"},
		late.WithBaseURL(server.URL),
	)
	if _, err := client.CreatePost(context.Background(), late.PostRequest{MediaURL: "https://signed.example/out.mp4"}); err != nil {
		t.Fatalf("CreatePost failed: %v", err)
	}
}

func TestCreatePostErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid account"}`, http.StatusUnprocessableEntity)
	}))
	t.Cleanup(server.Close)

	client := late.NewClient(config.Late{APIKey: "test"}, late.WithBaseURL(server.URL))

	if _, err := client.CreatePost(context.Background(), late.PostRequest{AccountID: "acct-7"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error without media url, got %v", err)
	}
	if _, err := client.CreatePost(context.Background(), late.PostRequest{MediaURL: "https://signed.example/out.mp4"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error without account, got %v", err)
	}
	if _, err := client.CreatePost(context.Background(), late.PostRequest{MediaURL: "https://signed.example/out.mp4", AccountID: "acct-7"}); !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected external error on http 422, got %v", err)
	}
}
