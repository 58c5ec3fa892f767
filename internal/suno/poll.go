package suno

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
)

// Poll defaults.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultPollTimeout    = 5 * time.Minute
	DefaultBackoffInitial = 2 * time.Second
	DefaultBackoffMax     = 30 * time.Second
	DefaultMaxPollErrors  = 5
)

// PollPolicy bounds the status polling loop. Only transient and
// rate-limited errors are retried; anything else ends polling at once.
type PollPolicy struct {
	Interval       time.Duration
	Timeout        time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// MaxErrors is the number of consecutive retryable errors tolerated.
	MaxErrors int
	// AcceptStreaming treats "streaming" clips as finished.
	AcceptStreaming bool
}

// DefaultPollPolicy returns the conservative defaults.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:       DefaultPollInterval,
		Timeout:        DefaultPollTimeout,
		BackoffInitial: DefaultBackoffInitial,
		BackoffMax:     DefaultBackoffMax,
		MaxErrors:      DefaultMaxPollErrors,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	d := DefaultPollPolicy()
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.BackoffInitial <= 0 {
		p.BackoffInitial = d.BackoffInitial
	}
	if p.BackoffMax < p.BackoffInitial {
		p.BackoffMax = max(d.BackoffMax, p.BackoffInitial)
	}
	if p.MaxErrors < 1 {
		p.MaxErrors = d.MaxErrors
	}
	return p
}

func (p PollPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BackoffInitial
	b.MaxInterval = p.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// Retryable reports whether a poll error may be retried.
func Retryable(err error) bool {
	class, ok := apperr.ClassOf(err)
	return apperr.Is(err, apperr.KindTransient) && (!ok || class.Recoverable())
}

// finished reports whether every submitted clip reached a final status.
func (p PollPolicy) finished(ids []string, clips []Clip) bool {
	if len(clips) < len(ids) {
		return false
	}
	for _, c := range clips {
		switch c.Status {
		case ClipComplete, ClipError:
		case ClipStreaming:
			if !p.AcceptStreaming {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pollError turns a context error from the polling window into the
// error surfaced to the caller.
func pollError(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient("poll", apperr.ClassTransient, fmt.Errorf("generation not ready after %s", timeout))
	}
	return apperr.Transient("poll", apperr.ClassTransient, err)
}
