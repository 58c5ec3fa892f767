package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "configuration", err: Configuration("load", "missing"), want: "configuration_error"},
		{name: "validation", err: Validation("submit", "tags too long"), want: "validation_error"},
		{name: "invalid target", err: InvalidTarget("ch9", []string{"library"}), want: "invalid_target"},
		{name: "auth", err: Auth("refresh", ClassForbidden, errors.New("403")), want: "auth_error"},
		{name: "provider with code", err: Provider("submit", "insufficient_credits", "no credits"), want: "insufficient_credits"},
		{name: "transient", err: Transient("poll", "", errors.New("timeout")), want: "transient_error"},
		{name: "not found", err: NotFound("delete", "gone"), want: "not_found"},
		{name: "conversion", err: Conversion("convert", errors.New("exit 1")), want: "conversion_error"},
		{name: "plain error", err: errors.New("boom"), want: "internal_error"},
		{name: "wrapped", err: fmt.Errorf("outer: %w", NotFound("delete", "gone")), want: "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassOf(t *testing.T) {
	t.Run("wrapped auth error keeps class", func(t *testing.T) {
		err := fmt.Errorf("ensure: %w", Auth("refresh", ClassExpiredOrInvalid, nil))
		class, ok := ClassOf(err)
		if !ok || class != ClassExpiredOrInvalid {
			t.Errorf("ClassOf() = %q, %v", class, ok)
		}
	})

	t.Run("transient defaults to transient class", func(t *testing.T) {
		class, ok := ClassOf(Transient("poll", "", errors.New("x")))
		if !ok || class != ClassTransient {
			t.Errorf("ClassOf() = %q, %v", class, ok)
		}
	})

	t.Run("unclassified error", func(t *testing.T) {
		if _, ok := ClassOf(Validation("x", "y")); ok {
			t.Error("expected no class for validation error")
		}
	})
}

func TestErrorMessage(t *testing.T) {
	inner := errors.New("connection reset")
	err := Transient("poll", ClassTransient, inner)
	if got := err.Error(); got != "poll: connection reset" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}

	withMsg := &Error{Kind: KindProvider, Op: "submit", Msg: "rejected", Err: inner}
	if got := withMsg.Error(); got != "submit: rejected: connection reset" {
		t.Errorf("Error() = %q", got)
	}
}

func TestRecoverable(t *testing.T) {
	for class, want := range map[FailureClass]bool{
		ClassExpiredOrInvalid: false,
		ClassForbidden:        false,
		ClassRateLimited:      true,
		ClassTransient:        true,
	} {
		if got := class.Recoverable(); got != want {
			t.Errorf("%s.Recoverable() = %v, want %v", class, got, want)
		}
	}
}
