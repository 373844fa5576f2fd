package service

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/trip-weather-service/internal/models"
)

// requestCoalescer lets concurrent misses for the same key share one upstream fetch.
// The shared fetch runs detached from any single caller's cancellation; each
// caller stops waiting at its own deadline or after timeout, whichever is first.
type requestCoalescer struct {
	group   singleflight.Group
	timeout time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{timeout: timeout}
}

// Do runs fn once per key among concurrent callers. shared reports whether the
// result was delivered to more than one caller.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(ctx context.Context) (models.WeatherAnalysis, error)) (analysis models.WeatherAnalysis, shared bool, err error) {
	detached := context.WithoutCancel(ctx)
	ch := rc.group.DoChan(key, func() (interface{}, error) {
		return fn(detached)
	})

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.Err != nil {
			return models.WeatherAnalysis{}, res.Shared, res.Err
		}
		return res.Val.(models.WeatherAnalysis), res.Shared, nil
	case <-waitCtx.Done():
		return models.WeatherAnalysis{}, false, waitCtx.Err()
	}
}
