package client

import (
	"context"
	"errors"

	"github.com/kjstillabower/trip-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/trip-weather-service/internal/models"
)

// BreakerProvider guards a WeatherProvider with a circuit breaker. While the
// circuit is open calls fail fast with an error wrapping both ErrUpstreamFailure
// and circuitbreaker.ErrOpen.
type BreakerProvider struct {
	next    WeatherProvider
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerProvider wraps next. cb should be built with IsUpstreamFault as its IsFailure.
func NewBreakerProvider(next WeatherProvider, cb *circuitbreaker.CircuitBreaker) *BreakerProvider {
	return &BreakerProvider{next: next, breaker: cb}
}

// IsUpstreamFault reports whether err says something about provider health.
// Unknown places, out-of-range dates, bad keys and caller cancellation do not.
func IsUpstreamFault(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrLocationNotFound),
		errors.Is(err, ErrForecastRange),
		errors.Is(err, ErrInvalidAPIKey),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func (p *BreakerProvider) FetchForecast(ctx context.Context, location, startDate string, days int) ([]models.DailyForecast, error) {
	var out []models.DailyForecast
	err := p.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.next.FetchForecast(ctx, location, startDate, days)
		return err
	})
	if err != nil {
		return nil, openAsUpstream(err)
	}
	return out, nil
}

func (p *BreakerProvider) FetchCurrent(ctx context.Context, location string) (models.CurrentConditions, error) {
	var out models.CurrentConditions
	err := p.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.next.FetchCurrent(ctx, location)
		return err
	})
	if err != nil {
		return models.CurrentConditions{}, openAsUpstream(err)
	}
	return out, nil
}

func openAsUpstream(err error) error {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return errors.Join(ErrUpstreamFailure, err)
	}
	return err
}
