package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/kjstillabower/trip-weather-service/internal/client"
)

func TestError_IsAndUnwrap(t *testing.T) {
	err := newError(KindUpstreamFailure, "Goa", "weather fetch failed", client.ErrRateLimited)

	if !errors.Is(err, ErrUpstreamFailure) {
		t.Error("errors.Is(err, ErrUpstreamFailure) = false")
	}
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrOptimizationFailure) {
		t.Error("error should not match other kinds")
	}
	if !errors.Is(err, client.ErrRateLimited) {
		t.Error("error should unwrap to the cause")
	}
	if !strings.Contains(err.Error(), `"Goa"`) || !strings.HasPrefix(err.Error(), "upstream_failure") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(newError(KindOptimizationFailure, "", "bad", nil)); got != KindOptimizationFailure {
		t.Errorf("KindOf() = %q", got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}
