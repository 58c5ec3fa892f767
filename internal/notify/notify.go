// Package notify delivers auth health changes to operator webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/0xshugo/suno-api-mcp/internal/logging"
)

// SinkKind selects the payload format of a webhook.
type SinkKind string

const (
	SinkGeneric SinkKind = "generic"
	SinkSlack   SinkKind = "slack"
	SinkDiscord SinkKind = "discord"
)

// Sink is one configured webhook.
type Sink struct {
	Kind SinkKind
	URL  string
}

// Event describes a health transition.
type Event struct {
	Service             string    `json:"service"`
	State               string    `json:"state"`
	Classification      string    `json:"classification,omitempty"`
	Message             string    `json:"message"`
	ConsecutiveFailures uint      `json:"consecutive_failures"`
	At                  time.Time `json:"timestamp"`
}

// Notifier accepts events. Implementations must not block on delivery.
type Notifier interface {
	Notify(event Event)
}

// Config configures a Dispatcher.
type Config struct {
	Sinks      []Sink
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// SinksFrom builds the sink list from per-format URL lists.
func SinksFrom(generic, slack, discord []string) []Sink {
	var sinks []Sink
	add := func(kind SinkKind, urls []string) {
		for _, u := range urls {
			if u != "" {
				sinks = append(sinks, Sink{Kind: kind, URL: u})
			}
		}
	}
	add(SinkGeneric, generic)
	add(SinkSlack, slack)
	add(SinkDiscord, discord)
	return sinks
}

// Dispatcher fans an event out to every sink on its own goroutine.
// Delivery failures are logged and never returned.
type Dispatcher struct {
	sinks   []Sink
	client  *http.Client
	timeout time.Duration
	logger  *logging.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. With no sinks Notify is a no-op.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		sinks:   cfg.Sinks,
		client:  cfg.HTTPClient,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Sinks returns the configured sinks.
func (d *Dispatcher) Sinks() []Sink {
	return d.sinks
}

// Notify implements Notifier.
func (d *Dispatcher) Notify(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func(s Sink) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := d.deliver(ctx, s, event); err != nil {
				d.logger.Warning("Failed to deliver %s notification: %v", s.Kind, err)
				return
			}
			d.logger.Debug("Delivered %s notification (state=%s)", s.Kind, event.State)
		}(sink)
	}
}

// Wait blocks until all in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits for in-flight deliveries.
func (d *Dispatcher) Close() error {
	d.Wait()
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, event Event) error {
	build, ok := payloadBuilders[sink.Kind]
	if !ok {
		return fmt.Errorf("unknown sink kind %q", sink.Kind)
	}
	body, err := json.Marshal(build(event))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sink.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
