package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bemflow/internal/config"
)

const userAgent = "bemflow/0.1"

// Event identifies a notification kind.
type Event string

const (
	EventJobStarted   Event = "job_started"
	EventJobFinished  Event = "job_finished"
	EventJobFailed    Event = "job_failed"
	EventJobCanceled  Event = "job_canceled"
	EventPackageReady Event = "package_ready"
	EventTest         Event = "test"
)

// Payload carries event fields. Known keys: job_id, name, stage, error,
// duration, location.
type Payload map[string]any

// Service publishes notification events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobStarted:   cfg.Notifications.JobStarted,
			EventJobFinished:  cfg.Notifications.JobFinished,
			EventJobFailed:    cfg.Notifications.JobFailed,
			EventJobCanceled:  cfg.Notifications.JobCanceled,
			EventPackageReady: true,
			EventTest:         true,
		},
		dedupWindow: time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second,
		lastSent:    make(map[string]time.Time),
		now:         time.Now,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	enabled     map[Event]bool
	dedupWindow time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	if n.suppressed(event, payload) {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return fmt.Errorf("unsupported notification event %q", event)
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) suppressed(event Event, payload Payload) bool {
	if n.dedupWindow <= 0 || event == EventTest {
		return false
	}
	key := string(event) + "|" + text(payload, "job_id")
	now := n.now()
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.lastSent[key]; ok && now.Sub(last) < n.dedupWindow {
		return true
	}
	n.lastSent[key] = now
	for k, t := range n.lastSent {
		if now.Sub(t) >= n.dedupWindow {
			delete(n.lastSent, k)
		}
	}
	return false
}

func format(event Event, payload Payload) (message, bool) {
	name := text(payload, "name")
	if name == "" {
		name = shortID(text(payload, "job_id"))
	}
	switch event {
	case EventJobStarted:
		return message{
			title: "bemflow - Job Started",
			body:  fmt.Sprintf("▶️ Started: %s", name),
			tags:  []string{"bemflow", "job", "started"},
		}, true
	case EventJobFinished:
		body := fmt.Sprintf("✅ Finished: %s", name)
		if d := text(payload, "duration"); d != "" {
			body += " in " + d
		}
		return message{
			title: "bemflow - Job Finished",
			body:  body,
			tags:  []string{"bemflow", "job", "finished"},
		}, true
	case EventJobFailed:
		var b strings.Builder
		b.WriteString("❌ Failed: ")
		b.WriteString(name)
		if stage := text(payload, "stage"); stage != "" {
			b.WriteString(" at ")
			b.WriteString(stage)
		}
		if errText := text(payload, "error"); errText != "" {
			b.WriteString(": ")
			b.WriteString(errText)
		}
		return message{
			title:    "bemflow - Job Failed",
			body:     b.String(),
			tags:     []string{"bemflow", "job", "error"},
			priority: "high",
		}, true
	case EventJobCanceled:
		return message{
			title: "bemflow - Job Canceled",
			body:  fmt.Sprintf("⏹️ Canceled: %s", name),
			tags:  []string{"bemflow", "job", "canceled"},
		}, true
	case EventPackageReady:
		return message{
			title: "bemflow - Results Packaged",
			body:  fmt.Sprintf("📦 Results for %s: %s", name, text(payload, "location")),
			tags:  []string{"bemflow", "package"},
		}, true
	case EventTest:
		return message{
			title:    "bemflow - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"bemflow", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func text(payload Payload, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case time.Duration:
		return v.Round(time.Second).String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
