package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/trip-weather-service/internal/models"
	"github.com/kjstillabower/trip-weather-service/internal/observability"
)

// WeatherProvider supplies raw forecast and current-conditions data for a
// free-form location. Both calls may fail with the sentinel errors below.
type WeatherProvider interface {
	FetchForecast(ctx context.Context, location, startDate string, days int) ([]models.DailyForecast, error)
	FetchCurrent(ctx context.Context, location string) (models.CurrentConditions, error)
}

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrLocationNotFound  = errors.New("location not found")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed upstream response")
	ErrForecastRange     = errors.New("dates outside forecast range")
)

// DefaultMaxForecastDays is the WeatherAPI.com forecast horizon on paid plans.
const DefaultMaxForecastDays = 14

const dateLayout = "2006-01-02"

// WeatherAPIClient implements WeatherProvider against the WeatherAPI.com v1 REST API.
type WeatherAPIClient struct {
	apiKey          string
	baseURL         string
	timeout         time.Duration
	client          *http.Client
	retryAttempts   int
	retryBaseDelay  time.Duration
	retryMaxDelay   time.Duration
	maxForecastDays int
	now             func() time.Time
}

// NewWeatherAPIClient returns a client that makes a single attempt per call.
// baseURL is the API root, e.g. https://api.weatherapi.com/v1.
func NewWeatherAPIClient(apiKey, baseURL string, timeout time.Duration) (*WeatherAPIClient, error) {
	return NewWeatherAPIClientWithRetry(apiKey, baseURL, timeout, 1, 100*time.Millisecond, 2*time.Second)
}

// NewWeatherAPIClientWithRetry returns a client that retries rate-limited,
// 5xx and timed-out attempts up to retryAttempts total attempts.
func NewWeatherAPIClientWithRetry(apiKey, baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*WeatherAPIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if retryAttempts < 1 {
		retryAttempts = 1
	}

	return &WeatherAPIClient{
		apiKey:          apiKey,
		baseURL:         strings.TrimRight(baseURL, "/"),
		timeout:         timeout,
		retryAttempts:   retryAttempts,
		retryBaseDelay:  retryBaseDelay,
		retryMaxDelay:   retryMaxDelay,
		maxForecastDays: DefaultMaxForecastDays,
		now:             time.Now,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetMaxForecastDays overrides the forecast horizon (free plans allow 3 days).
func (c *WeatherAPIClient) SetMaxForecastDays(n int) {
	if n > 0 {
		c.maxForecastDays = n
	}
}

// MaxForecastDays returns the forecast horizon in days, counted from today.
func (c *WeatherAPIClient) MaxForecastDays() int {
	return c.maxForecastDays
}

type apiCondition struct {
	Text string `json:"text"`
}

type apiLocation struct {
	Name    string `json:"name"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

type apiCurrent struct {
	LastUpdatedEpoch int64        `json:"last_updated_epoch"`
	TempC            float64      `json:"temp_c"`
	FeelsLikeC       float64      `json:"feelslike_c"`
	Humidity         int          `json:"humidity"`
	WindKph          float64      `json:"wind_kph"`
	PrecipMM         float64      `json:"precip_mm"`
	UV               float64      `json:"uv"`
	IsDay            int          `json:"is_day"`
	Condition        apiCondition `json:"condition"`
}

type apiForecastDay struct {
	Date string `json:"date"`
	Day  struct {
		MaxTempC          float64      `json:"maxtemp_c"`
		MinTempC          float64      `json:"mintemp_c"`
		AvgTempC          float64      `json:"avgtemp_c"`
		MaxWindKph        float64      `json:"maxwind_kph"`
		TotalPrecipMM     float64      `json:"totalprecip_mm"`
		AvgHumidity       float64      `json:"avghumidity"`
		DailyChanceOfRain int          `json:"daily_chance_of_rain"`
		UV                float64      `json:"uv"`
		Condition         apiCondition `json:"condition"`
	} `json:"day"`
}

type forecastResponse struct {
	Location *apiLocation `json:"location"`
	Forecast *struct {
		ForecastDay []apiForecastDay `json:"forecastday"`
	} `json:"forecast"`
}

type currentResponse struct {
	Location *apiLocation `json:"location"`
	Current  *apiCurrent  `json:"current"`
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchForecast returns days consecutive daily forecasts beginning at startDate
// (YYYY-MM-DD, empty for today). The provider only forecasts from today up to
// the configured horizon; dates outside it fail with ErrForecastRange.
func (c *WeatherAPIClient) FetchForecast(ctx context.Context, location, startDate string, days int) ([]models.DailyForecast, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: days must be at least 1", ErrForecastRange)
	}
	offset, err := c.startOffset(startDate)
	if err != nil {
		return nil, err
	}
	span := offset + days
	if span > c.maxForecastDays {
		return nil, fmt.Errorf("%w: %d days from today exceeds the %d-day horizon", ErrForecastRange, span, c.maxForecastDays)
	}

	params := url.Values{}
	params.Set("q", location)
	params.Set("days", strconv.Itoa(span))
	params.Set("aqi", "no")
	params.Set("alerts", "no")

	var resp forecastResponse
	if err := c.getWithRetry(ctx, "forecast", "/forecast.json", params, &resp); err != nil {
		return nil, err
	}
	if resp.Forecast == nil {
		return nil, fmt.Errorf("%w: missing forecast", ErrMalformedResponse)
	}

	out := make([]models.DailyForecast, 0, days)
	for _, fd := range resp.Forecast.ForecastDay {
		// ISO dates compare correctly as strings.
		if startDate != "" && fd.Date < startDate {
			continue
		}
		out = append(out, mapForecastDay(fd))
		if len(out) == days {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no forecast days for %s", ErrMalformedResponse, location)
	}
	// Keys on plans with a shorter horizon get fewer days than asked for.
	if len(out) < days {
		return nil, fmt.Errorf("%w: got %d of %d forecast days for %s", ErrMalformedResponse, len(out), days, location)
	}
	return out, nil
}

// FetchCurrent returns the latest observation for location.
func (c *WeatherAPIClient) FetchCurrent(ctx context.Context, location string) (models.CurrentConditions, error) {
	params := url.Values{}
	params.Set("q", location)
	params.Set("aqi", "no")

	var resp currentResponse
	if err := c.getWithRetry(ctx, "current", "/current.json", params, &resp); err != nil {
		return models.CurrentConditions{}, err
	}
	if resp.Current == nil {
		return models.CurrentConditions{}, fmt.Errorf("%w: missing current conditions", ErrMalformedResponse)
	}
	return mapCurrent(resp.Location, *resp.Current, location), nil
}

// startOffset returns how many days after today startDate falls. One day in the
// past is tolerated because the destination may be behind UTC.
func (c *WeatherAPIClient) startOffset(startDate string) (int, error) {
	if startDate == "" {
		return 0, nil
	}
	start, err := time.Parse(dateLayout, startDate)
	if err != nil {
		return 0, fmt.Errorf("%w: start date %q is not YYYY-MM-DD", ErrForecastRange, startDate)
	}
	now := c.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := int(start.Sub(today).Hours() / 24)
	if offset < -1 {
		return 0, fmt.Errorf("%w: start date %s is in the past", ErrForecastRange, startDate)
	}
	if offset < 0 {
		offset = 0
	}
	return offset, nil
}

func (c *WeatherAPIClient) getWithRetry(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.callAPI(ctx, endpoint, path, params, out)
		if err == nil {
			return nil
		}

		lastErr = err
		if !c.isRetryable(ctx, err) {
			observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
			return err
		}
	}

	observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	if c.retryAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *WeatherAPIClient) callAPI(ctx context.Context, endpoint, path string, params url.Values, out interface{}) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("request timeout: %w", err)
		}
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	return nil
}

func (c *WeatherAPIClient) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}

	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	// A per-attempt deadline fired while the caller's context is still live.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *WeatherAPIClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *WeatherAPIClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// handleErrorResponse maps WeatherAPI.com statuses and error codes to sentinels.
// See https://www.weatherapi.com/docs/#intro-error-codes.
func (c *WeatherAPIClient) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var body apiErrorBody
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)
	msg := body.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch {
	case body.Error.Code == 1006 || body.Error.Code == 1003:
		return fmt.Errorf("%w: %s", ErrLocationNotFound, msg)
	case body.Error.Code == 2007:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrInvalidAPIKey, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrLocationNotFound, msg)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	}
	return fmt.Errorf("%w: HTTP %d: %s", ErrUpstreamFailure, resp.StatusCode, msg)
}

func mapForecastDay(fd apiForecastDay) models.DailyForecast {
	return models.DailyForecast{
		Date:          fd.Date,
		Condition:     fd.Day.Condition.Text,
		MaxTempC:      fd.Day.MaxTempC,
		MinTempC:      fd.Day.MinTempC,
		AvgTempC:      fd.Day.AvgTempC,
		TotalPrecipMM: fd.Day.TotalPrecipMM,
		ChanceOfRain:  fd.Day.DailyChanceOfRain,
		MaxWindKph:    fd.Day.MaxWindKph,
		AvgHumidity:   int(math.Round(fd.Day.AvgHumidity)),
		UV:            fd.Day.UV,
	}
}

func mapCurrent(loc *apiLocation, cur apiCurrent, query string) models.CurrentConditions {
	name := query
	if loc != nil && loc.Name != "" {
		parts := []string{loc.Name}
		if loc.Region != "" && loc.Region != loc.Name {
			parts = append(parts, loc.Region)
		}
		if loc.Country != "" {
			parts = append(parts, loc.Country)
		}
		name = strings.Join(parts, ", ")
	}

	observed := time.Now().UTC()
	if cur.LastUpdatedEpoch > 0 {
		observed = time.Unix(cur.LastUpdatedEpoch, 0).UTC()
	}

	return models.CurrentConditions{
		Location:   name,
		Condition:  cur.Condition.Text,
		TempC:      cur.TempC,
		FeelsLikeC: cur.FeelsLikeC,
		Humidity:   cur.Humidity,
		WindKph:    cur.WindKph,
		PrecipMM:   cur.PrecipMM,
		UV:         cur.UV,
		IsDay:      cur.IsDay == 1,
		ObservedAt: observed,
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey makes one cheap current-conditions call to confirm the key is accepted.
func (c *WeatherAPIClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	params := url.Values{}
	params.Set("q", "London")
	req, err := c.buildRequest(ctx, "/current.json", params)
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := c.handleErrorResponse(resp); err != nil {
		if errors.Is(err, ErrInvalidAPIKey) {
			return fmt.Errorf("%w: API key is invalid or disabled", ErrInvalidAPIKey)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
