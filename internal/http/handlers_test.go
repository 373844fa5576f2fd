package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/trip-weather-service/internal/cache"
	"github.com/kjstillabower/trip-weather-service/internal/circuitbreaker"
	"github.com/kjstillabower/trip-weather-service/internal/client"
	"github.com/kjstillabower/trip-weather-service/internal/lifecycle"
	"github.com/kjstillabower/trip-weather-service/internal/models"
	"github.com/kjstillabower/trip-weather-service/internal/service"
	"github.com/kjstillabower/trip-weather-service/internal/toolbox"
	"github.com/kjstillabower/trip-weather-service/internal/traffic"
)

type mockProvider struct {
	calls      atomic.Int32
	err        error
	currentErr error
	block      bool // if set, FetchForecast blocks until ctx is done
}

func (m *mockProvider) FetchForecast(ctx context.Context, location, startDate string, days int) ([]models.DailyForecast, error) {
	m.calls.Add(1)
	if m.block {
		<-ctx.Done()
		return nil, fmt.Errorf("request timeout: %w", ctx.Err())
	}
	if m.err != nil {
		return nil, m.err
	}
	out := make([]models.DailyForecast, days)
	for i := range out {
		out[i] = models.DailyForecast{Date: fmt.Sprintf("2025-08-%02d", i+1), Condition: "Sunny", MaxTempC: 26, MinTempC: 18}
	}
	return out, nil
}

func (m *mockProvider) FetchCurrent(ctx context.Context, location string) (models.CurrentConditions, error) {
	if m.currentErr != nil {
		return models.CurrentConditions{}, m.currentErr
	}
	return models.CurrentConditions{Location: location, Condition: "Sunny", TempC: 28}, nil
}

// newTestRouter builds the full router over a real service and an in-memory cache.
func newTestRouter(t *testing.T, p client.WeatherProvider, hc *HealthConfig, logger *zap.Logger) *mux.Router {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	lifecycle.Reset()
	lifecycle.Set(lifecycle.Ready)
	traffic.Reset()
	t.Cleanup(func() {
		lifecycle.Reset()
		traffic.Reset()
	})
	svc := service.NewAnalysisService(p, cache.NewInMemoryCache(), service.Options{MaxForecastDays: 14, DestinationMaxLength: 100})
	h := NewHandler(svc, toolbox.Toolset{Name: "travel_genius_toolset", Tools: []toolbox.Tool{}}, hc, logger)
	return NewRouter(h, RouterConfig{RequestTimeout: 2 * time.Second, Logger: logger})
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Error map[string]string `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error
}

// TestHandler_GetAnalysis_Success verifies the analysis route returns the trip
// analysis and serves a repeat from cache.
func TestHandler_GetAnalysis_Success(t *testing.T) {
	p := &mockProvider{}
	router := newTestRouter(t, p, nil, nil)

	w := serve(router, http.MethodGet, "/weather/Goa/analysis?start_date=2025-08-01&duration_days=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var got models.WeatherAnalysis
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Destination != "Goa" || len(got.DailyForecast) != 3 || !got.WeatherSuitable {
		t.Errorf("analysis = %+v", got)
	}

	_ = serve(router, http.MethodGet, "/weather/Goa/analysis?start_date=2025-08-01&duration_days=3", "")
	if p.calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls.Load())
	}
}

func TestHandler_GetAnalysis_Errors(t *testing.T) {
	tests := []struct {
		name     string
		provider *mockProvider
		path     string
		wantCode int
		wantErr  string
	}{
		{"missing duration", &mockProvider{}, "/weather/Goa/analysis", http.StatusBadRequest, "INVALID_DURATION"},
		{"non-numeric duration", &mockProvider{}, "/weather/Goa/analysis?duration_days=three", http.StatusBadRequest, "INVALID_DURATION"},
		{"zero duration", &mockProvider{}, "/weather/Goa/analysis?duration_days=0", http.StatusBadRequest, "INVALID_REQUEST"},
		{"whitespace destination", &mockProvider{}, "/weather/%20%20/analysis?duration_days=2", http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad start date", &mockProvider{}, "/weather/Goa/analysis?duration_days=2&start_date=tomorrow", http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown destination", &mockProvider{err: client.ErrLocationNotFound}, "/weather/Atlantis/analysis?duration_days=2", http.StatusNotFound, "DESTINATION_NOT_FOUND"},
		{"outside forecast", &mockProvider{err: client.ErrForecastRange}, "/weather/Goa/analysis?duration_days=2", http.StatusBadRequest, "FORECAST_RANGE"},
		{"upstream down", &mockProvider{err: client.ErrUpstreamFailure}, "/weather/Goa/analysis?duration_days=2", http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(t, tc.provider, nil, nil)
			w := serve(router, http.MethodGet, tc.path, "")
			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tc.wantCode, w.Body.String())
			}
			if got := decodeError(t, w); got["code"] != tc.wantErr || got["requestId"] == "" {
				t.Errorf("error = %v, want code %s with requestId", got, tc.wantErr)
			}
		})
	}
}

// TestHandler_GetAnalysis_Timeout verifies a hung provider surfaces as 504.
func TestHandler_GetAnalysis_Timeout(t *testing.T) {
	lifecycle.Reset()
	lifecycle.Set(lifecycle.Ready)
	defer lifecycle.Reset()
	svc := service.NewAnalysisService(&mockProvider{block: true}, cache.NewInMemoryCache(), service.Options{UpstreamTimeout: 20 * time.Millisecond})
	router := NewRouter(NewHandler(svc, toolbox.Toolset{}, nil, zap.NewNop()), RouterConfig{RequestTimeout: time.Second, Logger: zap.NewNop()})

	w := serve(router, http.MethodGet, "/weather/Oslo/analysis?duration_days=2", "")
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
	if got := decodeError(t, w); got["code"] != "UPSTREAM_TIMEOUT" {
		t.Errorf("code = %q", got["code"])
	}
}

func TestHandler_GetCurrent(t *testing.T) {
	router := newTestRouter(t, &mockProvider{}, nil, nil)

	w := serve(router, http.MethodGet, "/weather/Goa/current", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var report models.CurrentReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if report.Current.TempC != 28 || len(report.DailyWeather) != 7 {
		t.Errorf("report = %+v", report)
	}

	failing := newTestRouter(t, &mockProvider{currentErr: client.ErrRateLimited}, nil, nil)
	if w := serve(failing, http.MethodGet, "/weather/Goa/current", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("failing status = %d, want 503", w.Code)
	}
}

func TestHandler_PostOptimize(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"list", `{"activities":[{"name":"Hike","type":"outdoor"},{"name":"Museum","type":"indoor"}],"duration_days":2}`},
		{"string", `{"activities":"[{\"name\":\"Hike\"},{\"name\":\"Spa\",\"type\":\"spa\"}]","duration_days":2}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(t, &mockProvider{}, nil, nil)
			w := serve(router, http.MethodPost, "/weather/Goa/optimize", tc.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			var resp struct {
				Success  bool             `json:"success"`
				Schedule []map[string]any `json:"optimized_schedule"`
			}
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if !resp.Success || len(resp.Schedule) != 2 {
				t.Fatalf("response = %+v", resp)
			}
			for i, a := range resp.Schedule {
				if _, ok := a["weather_score"].(float64); !ok {
					t.Errorf("activity %d weather_score = %#v", i, a["weather_score"])
				}
			}
		})
	}
}

func TestHandler_PostOptimize_BadInput(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"not json", `activities please`, "INVALID_BODY"},
		{"activities object", `{"activities":{"type":"outdoor"},"duration_days":2}`, "INVALID_REQUEST"},
		{"bad activities string", `{"activities":"[{","duration_days":2}`, "INVALID_REQUEST"},
		{"missing duration", `{"activities":[{"type":"outdoor"}]}`, "INVALID_REQUEST"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := &mockProvider{}
			router := newTestRouter(t, p, nil, nil)
			w := serve(router, http.MethodPost, "/weather/Goa/optimize", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
			}
			if got := decodeError(t, w); got["code"] != tc.wantCode {
				t.Errorf("code = %q, want %q", got["code"], tc.wantCode)
			}
			if p.calls.Load() != 0 {
				t.Error("provider should not be called for bad input")
			}
		})
	}
}

func TestHandler_GetExtractDestination(t *testing.T) {
	router := newTestRouter(t, &mockProvider{}, nil, nil)

	w := serve(router, http.MethodGet, "/destinations/extract?q=4+days+in+Lisbon", "")
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if w.Code != http.StatusOK || got["destination"] != "Lisbon" {
		t.Errorf("status %d, body %v", w.Code, got)
	}

	if w := serve(router, http.MethodGet, "/destinations/extract", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", w.Code)
	}
}

func TestHandler_GetTools(t *testing.T) {
	lifecycle.Set(lifecycle.Ready)
	defer lifecycle.Reset()
	ts := toolbox.Toolset{Name: "travel_genius_toolset", Tools: []toolbox.Tool{
		{Name: "search_hotels", Description: "Find hotels", Parameters: []toolbox.Parameter{{Name: "city", Type: "string"}}},
	}}
	h := NewHandler(nil, ts, nil, zap.NewNop())
	router := NewRouter(h, RouterConfig{Logger: zap.NewNop()})

	w := serve(router, http.MethodGet, "/tools", "")
	var resp struct {
		Tools []struct {
			Name   string `json:"name"`
			Source string `json:"source"`
		} `json:"tools"`
		RemoteTools int `json:"remoteTools"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Tools) != 5 || resp.RemoteTools != 1 {
		t.Fatalf("tools = %+v", resp)
	}
	last := resp.Tools[len(resp.Tools)-1]
	if last.Name != "search_hotels" || last.Source != "toolbox:travel_genius_toolset" {
		t.Errorf("remote tool = %+v", last)
	}
}

func healthStatus(t *testing.T, router http.Handler) (int, map[string]interface{}) {
	t.Helper()
	w := serve(router, http.MethodGet, "/health", "")
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return w.Code, body
}

func TestHandler_GetHealth(t *testing.T) {
	router := newTestRouter(t, &mockProvider{}, &HealthConfig{CachePing: func() error { return nil }}, nil)

	code, body := healthStatus(t, router)
	if code != http.StatusOK || body["status"] != "healthy" || body["service"] != "trip-weather-service" {
		t.Errorf("health = %d %v", code, body)
	}
	checks := body["checks"].(map[string]interface{})
	if checks["cache"] != "healthy" || checks["weatherApi"] != "healthy" {
		t.Errorf("checks = %v", checks)
	}
}

// TestHandler_GetHealth_Priority walks the status chain from highest priority down.
func TestHandler_GetHealth_Priority(t *testing.T) {
	breaker := circuitbreaker.StateClosed
	hc := &HealthConfig{
		OverloadWindow:       time.Minute,
		OverloadThresholdPct: 50,
		RateLimitRPS:         1, // 30 denials per minute trips overload
		DegradedWindow:       time.Minute,
		DegradedErrorPct:     50,
		BreakerState:         func() circuitbreaker.State { return breaker },
	}
	router := newTestRouter(t, &mockProvider{}, hc, nil)

	if _, body := healthStatus(t, router); body["status"] != "healthy" {
		t.Fatalf("baseline status = %v", body["status"])
	}

	for i := 0; i < 3; i++ {
		traffic.RecordError()
	}
	if code, body := healthStatus(t, router); code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("error rate: %d %v, want 503 degraded", code, body["status"])
	}

	traffic.Reset()
	breaker = circuitbreaker.StateOpen
	code, body := healthStatus(t, router)
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Errorf("open breaker: %d %v, want 503 degraded", code, body["status"])
	}
	if body["checks"].(map[string]interface{})["weatherApi"] != "unhealthy" {
		t.Errorf("weatherApi check = %v", body["checks"])
	}

	for i := 0; i < 31; i++ {
		traffic.RecordDenied()
	}
	if _, body := healthStatus(t, router); body["status"] != "overloaded" {
		t.Errorf("denials: status = %v, want overloaded", body["status"])
	}

	lifecycle.SetShuttingDown()
	if code, body := healthStatus(t, router); code != http.StatusServiceUnavailable || body["status"] != "shutting-down" {
		t.Errorf("shutdown: %d %v", code, body["status"])
	}
}

func TestHandler_GetHealth_Starting(t *testing.T) {
	router := newTestRouter(t, &mockProvider{}, nil, nil)
	lifecycle.Reset()

	if code, body := healthStatus(t, router); code != http.StatusServiceUnavailable || body["status"] != "starting" {
		t.Errorf("health = %d %v, want 503 starting", code, body["status"])
	}
}

func TestHandler_GetHealth_CacheUnreachable(t *testing.T) {
	router := newTestRouter(t, &mockProvider{}, &HealthConfig{CachePing: func() error { return fmt.Errorf("dial tcp: connection refused") }}, nil)

	_, body := healthStatus(t, router)
	if body["checks"].(map[string]interface{})["cache"] != "unhealthy" {
		t.Errorf("checks = %v", body["checks"])
	}
}

// TestHandler_GetHealth_LogsTransition verifies status changes are logged once.
func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	breaker := circuitbreaker.StateClosed
	router := newTestRouter(t, &mockProvider{}, &HealthConfig{BreakerState: func() circuitbreaker.State { return breaker }}, zap.New(core))

	healthStatus(t, router)
	breaker = circuitbreaker.StateOpen
	healthStatus(t, router)
	healthStatus(t, router)

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "degraded" || fields["reason"] != "circuit_open" {
		t.Errorf("fields = %v", fields)
	}
}

// TestHandler_UpstreamErrorsFeedDegraded verifies only 5xx outcomes count as errors.
func TestHandler_UpstreamErrorsFeedDegraded(t *testing.T) {
	router := newTestRouter(t, &mockProvider{err: client.ErrUpstreamFailure}, nil, nil)

	serve(router, http.MethodGet, "/weather/Goa/analysis?duration_days=2", "")
	serve(router, http.MethodGet, "/weather/Goa/analysis?duration_days=0", "")

	errs, total := traffic.ErrorRate(time.Minute)
	if errs != 1 || total != 1 {
		t.Errorf("ErrorRate = %d/%d, want 1/1", errs, total)
	}
}

func TestActivitiesJSON(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{``, ""},
		{`null`, ""},
		{`[{"type":"beach"}]`, `[{"type":"beach"}]`},
		{`"[{\"type\":\"beach\"}]"`, `[{"type":"beach"}]`},
	}
	for _, tc := range tests {
		got, err := activitiesJSON(json.RawMessage(tc.raw))
		if err != nil || got != tc.want {
			t.Errorf("activitiesJSON(%s) = %q, %v; want %q", tc.raw, got, err, tc.want)
		}
	}
}
