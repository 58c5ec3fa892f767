package auth

import (
	"time"

	"github.com/0xshugo/suno-api-mcp/internal/apperr"
)

// State is the coarse auth health signal.
type State string

const (
	StateOK             State = "ok"
	StateDegraded       State = "degraded"
	StateReauthRequired State = "reauth_required"
)

// Failing reports whether s is one of the unhealthy states.
func (s State) Failing() bool {
	return s == StateDegraded || s == StateReauthRequired
}

// DefaultFailureThreshold is the number of consecutive recoverable
// failures after which the state escalates to reauth_required.
const DefaultFailureThreshold = 3

// Health is the auth health record.
type Health struct {
	State               State               `json:"state"`
	ConsecutiveFailures uint                `json:"consecutive_failures"`
	LastClass           apperr.FailureClass `json:"last_error_classification,omitempty"`
	LastError           string              `json:"last_error,omitempty"`
	LastTransitionAt    time.Time           `json:"last_transition_at"`
}

// Outcome is the result of one refresh attempt.
type Outcome struct {
	Success bool
	Class   apperr.FailureClass
	Message string
}

// Succeeded returns a successful outcome.
func Succeeded() Outcome { return Outcome{Success: true} }

// Failed returns a failed outcome with the given class.
func Failed(class apperr.FailureClass, msg string) Outcome {
	return Outcome{Class: class, Message: msg}
}

// OutcomeOf converts a refresh error into an outcome. Unclassified errors
// count as transient.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Succeeded()
	}
	class, ok := apperr.ClassOf(err)
	if !ok {
		class = apperr.ClassTransient
	}
	return Failed(class, err.Error())
}

// InitialHealth is the state before any refresh outcome.
func InitialHealth(now time.Time) Health {
	return Health{State: StateOK, LastTransitionAt: now}
}

// Apply folds one outcome into h. It returns the new record and whether the
// step entered a failing state it was not already in.
//
// expired_or_invalid and forbidden escalate straight to reauth_required.
// rate_limited and transient degrade until the consecutive failure count
// reaches threshold. reauth_required only clears on success.
func Apply(h Health, o Outcome, threshold uint, now time.Time) (Health, bool) {
	if threshold == 0 {
		threshold = DefaultFailureThreshold
	}
	prev := h.State

	if o.Success {
		h.ConsecutiveFailures = 0
		h.LastClass = ""
		h.LastError = ""
		h.State = StateOK
	} else {
		h.ConsecutiveFailures++
		h.LastClass = o.Class
		h.LastError = o.Message
		switch {
		case !o.Class.Recoverable():
			h.State = StateReauthRequired
		case prev == StateReauthRequired:
		case h.ConsecutiveFailures >= threshold:
			h.State = StateReauthRequired
		default:
			h.State = StateDegraded
		}
	}

	if h.State != prev {
		h.LastTransitionAt = now
	}
	return h, h.State != prev && h.State.Failing()
}

// Replay folds outcomes from the initial state and counts notifications.
func Replay(outcomes []Outcome, threshold uint, start time.Time) (Health, int) {
	h := InitialHealth(start)
	notifications := 0
	for _, o := range outcomes {
		var notify bool
		h, notify = Apply(h, o, threshold, start)
		if notify {
			notifications++
		}
	}
	return h, notifications
}
