// Package alert reports conditions that need an operator's attention, such
// as a registry record left behind by a failed compensation.
//
// Sinks are fire-and-forget: Alert never blocks the caller on network I/O
// and never returns an error.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/brbxai/recommand-peppol-sub001/pkg/transport"
)

// Severity of an alert
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a single operator notification
type Alert struct {
	Severity Severity          `json:"severity"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	Time     time.Time         `json:"time"`
}

// Sink receives alerts
type Sink interface {
	Alert(ctx context.Context, a Alert)
}

// LogSink writes alerts to a structured logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink; nil uses slog.Default()
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Alert(ctx context.Context, a Alert) {
	attrs := []any{"severity", a.Severity, "title", a.Title}
	for k, v := range a.Fields {
		attrs = append(attrs, k, v)
	}
	s.logger.ErrorContext(ctx, a.Message, attrs...)
}

// WebhookSink posts alerts as JSON to a URL in the background
type WebhookSink struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewWebhookSink creates a webhook sink. Delivery failures are logged.
func NewWebhookSink(url string, timeout time.Duration, logger *slog.Logger) *WebhookSink {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{
		url:     url,
		client:  transport.NewHTTPClient(&transport.Config{Timeout: timeout}),
		timeout: timeout,
		logger:  logger,
	}
}

func (s *WebhookSink) Alert(_ context.Context, a Alert) {
	body, err := json.Marshal(Stamp(a))
	if err != nil {
		s.logger.Error("encoding alert", "error", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// not bound to the caller's context
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			s.logger.Error("creating alert request", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Error("delivering alert", "title", a.Title, "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			s.logger.Error("alert webhook rejected alert", "title", a.Title, "status", resp.StatusCode)
		}
	}()
}

// Wait blocks until in-flight deliveries finish, for shutdown and tests
func (s *WebhookSink) Wait() {
	s.wg.Wait()
}

// Multi fans an alert out to several sinks
type Multi []Sink

// Alert stamps a once so every sink reports the same time.
func (m Multi) Alert(ctx context.Context, a Alert) {
	a = Stamp(a)
	for _, s := range m {
		s.Alert(ctx, a)
	}
}

// Stamp fills in Time when unset
func Stamp(a Alert) Alert {
	if a.Time.IsZero() {
		a.Time = time.Now().UTC()
	}
	return a
}
