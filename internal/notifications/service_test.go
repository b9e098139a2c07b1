package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"bemflow/internal/config"
	"bemflow/internal/notifications"
)

type captured struct {
	title    string
	body     string
	tags     string
	priority string
}

func newServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, captured{
			title:    r.Header.Get("Title"),
			body:     string(body),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), seen...)
	}
}

func configFor(topic string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = topic
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.JobStarted = true
	cfg.Notifications.JobFinished = true
	cfg.Notifications.JobFailed = true
	cfg.Notifications.JobCanceled = true
	cfg.Notifications.DedupWindowSeconds = 0
	return &cfg
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	svc := notifications.NewService(configFor(""))
	if err := svc.Publish(context.Background(), notifications.EventJobFinished, notifications.Payload{"name": "x"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectBody     string
		expectTags     string
		expectPriority string
	}{
		{
			name:        "finished",
			event:       notifications.EventJobFinished,
			payload:     notifications.Payload{"job_id": "1234567890", "name": "office", "duration": "2m0s"},
			expectTitle: "bemflow - Job Finished",
			expectBody:  "✅ Finished: office in 2m0s",
			expectTags:  "bemflow,job,finished",
		},
		{
			name:           "failed",
			event:          notifications.EventJobFailed,
			payload:        notifications.Payload{"job_id": "1234567890", "stage": "simulate", "error": errors.New("engine crashed")},
			expectTitle:    "bemflow - Job Failed",
			expectBody:     "❌ Failed: 12345678 at simulate: engine crashed",
			expectTags:     "bemflow,job,error",
			expectPriority: "high",
		},
		{
			name:        "canceled",
			event:       notifications.EventJobCanceled,
			payload:     notifications.Payload{"name": "retrofit"},
			expectTitle: "bemflow - Job Canceled",
			expectBody:  "⏹️ Canceled: retrofit",
			expectTags:  "bemflow,job,canceled",
		},
		{
			name:        "package",
			event:       notifications.EventPackageReady,
			payload:     notifications.Payload{"name": "retrofit", "location": "/srv/out.zip"},
			expectTitle: "bemflow - Results Packaged",
			expectBody:  "📦 Results for retrofit: /srv/out.zip",
			expectTags:  "bemflow,package",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, seen := newServer(t)
			svc := notifications.NewService(configFor(srv.URL))
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			got := seen()
			if len(got) != 1 {
				t.Fatalf("expected 1 request, got %d", len(got))
			}
			if got[0].title != tc.expectTitle || got[0].body != tc.expectBody || got[0].tags != tc.expectTags || got[0].priority != tc.expectPriority {
				t.Fatalf("unexpected request %+v", got[0])
			}
		})
	}
}

func TestNtfyServiceHonoursEventToggles(t *testing.T) {
	srv, seen := newServer(t)
	cfg := configFor(srv.URL)
	cfg.Notifications.JobStarted = false
	svc := notifications.NewService(cfg)
	if err := svc.Publish(context.Background(), notifications.EventJobStarted, notifications.Payload{"name": "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n := len(seen()); n != 0 {
		t.Fatalf("expected disabled event to be dropped, got %d requests", n)
	}
}

func TestNtfyServiceDeduplicatesWithinWindow(t *testing.T) {
	srv, seen := newServer(t)
	cfg := configFor(srv.URL)
	cfg.Notifications.DedupWindowSeconds = 60
	svc := notifications.NewService(cfg)
	for i := 0; i < 3; i++ {
		if err := svc.Publish(context.Background(), notifications.EventJobFailed, notifications.Payload{"job_id": "a"}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := svc.Publish(context.Background(), notifications.EventJobFailed, notifications.Payload{"job_id": "b"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n := len(seen()); n != 2 {
		t.Fatalf("expected 2 requests after dedup, got %d", n)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	defer srv.Close()
	svc := notifications.NewService(configFor(srv.URL))
	err := svc.Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error for 403")
	}
}
