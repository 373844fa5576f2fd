package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/trip-weather-service/internal/observability"
)

const testAPIKey = "test-api-key-12345"

var fixedNow = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func forecastDay(date, condition string, maxC, precip float64, chance int) map[string]interface{} {
	return map[string]interface{}{
		"date": date,
		"day": map[string]interface{}{
			"maxtemp_c":            maxC,
			"mintemp_c":            maxC - 8,
			"avgtemp_c":            maxC - 4,
			"maxwind_kph":          14.4,
			"totalprecip_mm":       precip,
			"avghumidity":          71.6,
			"daily_chance_of_rain": chance,
			"uv":                   6.0,
			"condition":            map[string]interface{}{"text": condition},
		},
	}
}

func forecastBody(days ...map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"location": map[string]interface{}{"name": "Goa", "region": "Goa", "country": "India"},
		"forecast": map[string]interface{}{"forecastday": days},
	}
}

func newTestClient(t *testing.T, url string) *WeatherAPIClient {
	t.Helper()
	c, err := NewWeatherAPIClient(testAPIKey, url, 2*time.Second)
	if err != nil {
		t.Fatalf("NewWeatherAPIClient() error = %v", err)
	}
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestNewWeatherAPIClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{name: "empty API key", apiKey: "", wantErr: ErrInvalidAPIKey},
		{name: "too short API key", apiKey: "short", wantErr: ErrInvalidAPIKey},
		{name: "valid API key", apiKey: testAPIKey, wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewWeatherAPIClient(tt.apiKey, "https://api.test.com/v1", 2*time.Second)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewWeatherAPIClient() error = %v, want %v", err, tt.wantErr)
				}
				if client != nil {
					t.Errorf("NewWeatherAPIClient() expected nil client on error")
				}
				return
			}
			if err != nil || client == nil {
				t.Fatalf("NewWeatherAPIClient() = %v, %v; want client", client, err)
			}
		})
	}
}

// TestFetchForecast_Success verifies the request shape and the mapping from the
// forecastday payload into DailyForecast values.
func TestFetchForecast_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forecast.json" {
			t.Errorf("path = %q, want /forecast.json", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "Goa" || q.Get("key") != testAPIKey || q.Get("days") != "3" {
			t.Errorf("query = %v, want q=Goa key=%s days=3", q, testAPIKey)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(forecastBody(
			forecastDay("2025-01-01", "Sunny", 31, 0, 0),
			forecastDay("2025-01-02", "Heavy rain", 27, 42.5, 89),
			forecastDay("2025-01-03", "Partly cloudy", 30, 0.4, 10),
		))
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL).FetchForecast(context.Background(), "Goa", "", 3)
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	d := got[1]
	if d.Date != "2025-01-02" || d.Condition != "Heavy rain" || d.TotalPrecipMM != 42.5 || d.ChanceOfRain != 89 {
		t.Errorf("day 2 = %+v", d)
	}
	if d.MinTempC != 19 || d.AvgHumidity != 72 || d.MaxWindKph != 14.4 {
		t.Errorf("day 2 derived fields = %+v", d)
	}
}

// TestFetchForecast_StartDateOffset verifies that a future start date extends the
// requested span and that days before the start are dropped.
func TestFetchForecast_StartDateOffset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("days"); got != "4" {
			t.Errorf("days = %q, want 4 (2 offset + 2 requested)", got)
		}
		_ = json.NewEncoder(w).Encode(forecastBody(
			forecastDay("2025-01-01", "Sunny", 30, 0, 0),
			forecastDay("2025-01-02", "Sunny", 30, 0, 0),
			forecastDay("2025-01-03", "Cloudy", 28, 0, 0),
			forecastDay("2025-01-04", "Mist", 25, 0, 0),
		))
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL).FetchForecast(context.Background(), "Goa", "2025-01-03", 2)
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if len(got) != 2 || got[0].Date != "2025-01-03" || got[1].Date != "2025-01-04" {
		t.Errorf("FetchForecast() = %+v, want 2025-01-03..04", got)
	}
}

func TestFetchForecast_OutOfRange(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()
	c := newTestClient(t, server.URL)

	tests := []struct {
		name      string
		startDate string
		days      int
	}{
		{"past start", "2024-12-01", 3},
		{"beyond horizon", "2025-01-10", 7},
		{"too many days", "", 15},
		{"bad date", "01/03/2025", 2},
		{"zero days", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.FetchForecast(context.Background(), "Goa", tt.startDate, tt.days)
			if !errors.Is(err, ErrForecastRange) {
				t.Errorf("FetchForecast() error = %v, want ErrForecastRange", err)
			}
		})
	}
	if calls.Load() != 0 {
		t.Errorf("provider calls = %d, want 0 for out-of-range requests", calls.Load())
	}
}

func TestFetchForecast_EmptyForecastIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(forecastBody())
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).FetchForecast(context.Background(), "Goa", "", 2)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("FetchForecast() error = %v, want ErrMalformedResponse", err)
	}
}

// TestFetchForecast_ShortForecastIsMalformed verifies that fewer days than
// requested is an error rather than a partial result.
func TestFetchForecast_ShortForecastIsMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(forecastBody(
			forecastDay("2025-01-01", "Sunny", 30, 0, 0),
			forecastDay("2025-01-02", "Sunny", 30, 0, 0),
			forecastDay("2025-01-03", "Sunny", 30, 0, 0),
		))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).FetchForecast(context.Background(), "Goa", "", 5)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("FetchForecast() error = %v, want ErrMalformedResponse", err)
	}
}

func TestFetchForecast_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"forecast": [`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).FetchForecast(context.Background(), "Goa", "", 2)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("FetchForecast() error = %v, want ErrMalformedResponse", err)
	}
}

// TestHandleErrorResponse verifies the mapping of WeatherAPI.com statuses and
// error codes onto sentinel errors.
func TestHandleErrorResponse(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"no matching location", 400, `{"error":{"code":1006,"message":"No matching location found."}}`, ErrLocationNotFound},
		{"missing q", 400, `{"error":{"code":1003,"message":"Parameter q is missing."}}`, ErrLocationNotFound},
		{"invalid key", 401, `{"error":{"code":2006,"message":"API key provided is invalid"}}`, ErrInvalidAPIKey},
		{"quota exceeded", 403, `{"error":{"code":2007,"message":"API key has exceeded calls per month quota."}}`, ErrRateLimited},
		{"key disabled", 403, `{"error":{"code":2008,"message":"API key has been disabled."}}`, ErrInvalidAPIKey},
		{"too many requests", 429, ``, ErrRateLimited},
		{"internal error", 500, `{"error":{"code":9999,"message":"Internal application error."}}`, ErrUpstreamFailure},
		{"bad gateway", 502, ``, ErrUpstreamFailure},
		{"unexpected 4xx", 418, ``, ErrUpstreamFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rec.WriteHeader(tt.status)
			_, _ = rec.WriteString(tt.body)
			err := (&WeatherAPIClient{}).handleErrorResponse(rec.Result())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("handleErrorResponse() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFetchCurrent_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/current.json" {
			t.Errorf("path = %q, want /current.json", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"location": map[string]interface{}{"name": "Panaji", "region": "Goa", "country": "India"},
			"current": map[string]interface{}{
				"last_updated_epoch": 1735722000,
				"temp_c":             29.5,
				"feelslike_c":        33.1,
				"humidity":           70,
				"wind_kph":           11.2,
				"precip_mm":          0.1,
				"uv":                 7.0,
				"is_day":             1,
				"condition":          map[string]interface{}{"text": "Partly cloudy"},
			},
		})
	}))
	defer server.Close()

	got, err := newTestClient(t, server.URL).FetchCurrent(context.Background(), "Goa")
	if err != nil {
		t.Fatalf("FetchCurrent() error = %v", err)
	}
	if got.Location != "Panaji, Goa, India" {
		t.Errorf("Location = %q, want Panaji, Goa, India", got.Location)
	}
	if got.TempC != 29.5 || got.FeelsLikeC != 33.1 || !got.IsDay || got.Condition != "Partly cloudy" {
		t.Errorf("FetchCurrent() = %+v", got)
	}
	if !got.ObservedAt.Equal(time.Unix(1735722000, 0)) {
		t.Errorf("ObservedAt = %v", got.ObservedAt)
	}
}

func TestFetchCurrent_MissingCurrent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"location":{"name":"Goa"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).FetchCurrent(context.Background(), "Goa")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("FetchCurrent() error = %v, want ErrMalformedResponse", err)
	}
}

func TestFetchForecast_RetryLogic(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(forecastBody(forecastDay("2025-01-01", "Sunny", 30, 0, 0)))
	}))
	defer server.Close()

	client, err := NewWeatherAPIClientWithRetry(testAPIKey, server.URL, 2*time.Second, 3, 10*time.Millisecond, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWeatherAPIClientWithRetry() error = %v", err)
	}
	client.now = func() time.Time { return fixedNow }

	got, err := client.FetchForecast(context.Background(), "Goa", "", 1)
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestFetchForecast_NoRetryOnNonRetryableError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":1006,"message":"No matching location found."}}`))
	}))
	defer server.Close()

	client, _ := NewWeatherAPIClientWithRetry(testAPIKey, server.URL, 2*time.Second, 3, 10*time.Millisecond, 100*time.Millisecond)
	client.now = func() time.Time { return fixedNow }

	_, err := client.FetchForecast(context.Background(), "Atlantis", "", 2)
	if !errors.Is(err, ErrLocationNotFound) {
		t.Errorf("FetchForecast() error = %v, want ErrLocationNotFound", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt (no retry), got %d", attempts.Load())
	}
}

// TestFetchForecast_SingleAttemptByDefault verifies the default client never retries.
func TestFetchForecast_SingleAttemptByDefault(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).FetchForecast(context.Background(), "Goa", "", 2)
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("FetchForecast() error = %v, want ErrUpstreamFailure", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestFetchForecast_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, server.URL).FetchForecast(ctx, "Goa", "", 2)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("FetchForecast() error = %v, want context.Canceled", err)
	}
}

func TestFetchForecast_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client, _ := NewWeatherAPIClient(testAPIKey, server.URL, 20*time.Millisecond)
	client.now = func() time.Time { return fixedNow }

	start := time.Now()
	_, err := client.FetchForecast(context.Background(), "Goa", "", 2)
	if err == nil {
		t.Fatal("FetchForecast() error = nil, want timeout")
	}
	if CategorizeError(err) != ErrorCategoryTimeout {
		t.Errorf("CategorizeError(%v) = %v, want timeout", err, CategorizeError(err))
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Errorf("FetchForecast() took %v, want bounded by timeout", time.Since(start))
	}
}

// TestFetchForecast_RetriesAttemptTimeoutWithinBudget verifies a slow first
// attempt is retried when the caller's deadline covers more than one attempt.
func TestFetchForecast_RetriesAttemptTimeoutWithinBudget(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(500 * time.Millisecond):
			}
			return
		}
		_ = json.NewEncoder(w).Encode(forecastBody(forecastDay("2025-01-01", "Sunny", 30, 0, 0)))
	}))
	defer server.Close()

	client, err := NewWeatherAPIClientWithRetry(testAPIKey, server.URL, 50*time.Millisecond, 2, 10*time.Millisecond, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWeatherAPIClientWithRetry() error = %v", err)
	}
	client.now = func() time.Time { return fixedNow }

	ctx, cancel := context.WithTimeout(context.Background(), 2*50*time.Millisecond+20*time.Millisecond+100*time.Millisecond)
	defer cancel()

	got, err := client.FetchForecast(ctx, "Goa", "", 1)
	if err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}

func TestFetchForecast_CorrelationID(t *testing.T) {
	var captured atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Store(r.Header.Get("X-Correlation-ID"))
		_ = json.NewEncoder(w).Encode(forecastBody(forecastDay("2025-01-01", "Sunny", 30, 0, 0)))
	}))
	defer server.Close()

	ctx := observability.WithCorrelationID(context.Background(), "corr-123")
	if _, err := newTestClient(t, server.URL).FetchForecast(ctx, "Goa", "", 1); err != nil {
		t.Fatalf("FetchForecast() error = %v", err)
	}
	if got, _ := captured.Load().(string); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", got)
	}
}

func TestCalculateBackoff(t *testing.T) {
	c := &WeatherAPIClient{retryBaseDelay: 100 * time.Millisecond, retryMaxDelay: 300 * time.Millisecond}
	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 100 * time.Millisecond, 110 * time.Millisecond},
		{2, 200 * time.Millisecond, 220 * time.Millisecond},
		{5, 300 * time.Millisecond, 330 * time.Millisecond},
	}
	for _, tt := range tests {
		got := c.calculateBackoff(tt.attempt)
		if got < tt.min || got > tt.max {
			t.Errorf("calculateBackoff(%d) = %v, want in [%v, %v]", tt.attempt, got, tt.min, tt.max)
		}
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"valid", http.StatusOK, `{"current":{}}`, nil},
		{"invalid", http.StatusUnauthorized, `{"error":{"code":2006,"message":"API key provided is invalid"}}`, ErrInvalidAPIKey},
		{"server error", http.StatusInternalServerError, ``, ErrUpstreamFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := newTestClient(t, server.URL).ValidateAPIKey(context.Background())
			if tt.wantErr == nil && err != nil {
				t.Errorf("ValidateAPIKey() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAPIKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusLabel(t *testing.T) {
	tests := map[int]string{200: "success", 204: "success", 429: "rate_limited", 400: "client_error", 503: "server_error", 101: "error"}
	for code, want := range tests {
		if got := statusLabel(code); got != want {
			t.Errorf("statusLabel(%d) = %q, want %q", code, got, want)
		}
	}
}
