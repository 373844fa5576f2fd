package models

import "time"

// WeatherRequest identifies one trip analysis. The cache key is built from
// these three fields.
type WeatherRequest struct {
	Destination  string `json:"destination" validate:"destination"`
	StartDate    string `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	DurationDays int    `json:"duration_days" validate:"min=1"`
}

// DailyForecast is one day of provider forecast data, normalized to metric units.
type DailyForecast struct {
	Date          string  `json:"date"`
	Condition     string  `json:"condition"`
	MaxTempC      float64 `json:"max_temp_c"`
	MinTempC      float64 `json:"min_temp_c"`
	AvgTempC      float64 `json:"avg_temp_c"`
	TotalPrecipMM float64 `json:"total_precip_mm"`
	ChanceOfRain  int     `json:"chance_of_rain"`
	MaxWindKph    float64 `json:"max_wind_kph"`
	AvgHumidity   int     `json:"avg_humidity"`
	UV            float64 `json:"uv"`
}

// DailySuitability is the scored view of one DailyForecast.
type DailySuitability struct {
	Date            string   `json:"date"`
	Condition       string   `json:"condition"`
	OutdoorScore    int      `json:"outdoorScore"`
	IndoorScore     int      `json:"indoorScore"`
	BeachScore      int      `json:"beachScore"`
	MaxTempC        float64  `json:"max_temp_c"`
	MinTempC        float64  `json:"min_temp_c"`
	PrecipMM        float64  `json:"precip_mm"`
	ChanceOfRain    int      `json:"chance_of_rain"`
	Recommendations []string `json:"recommendations"`
}

// WeatherAnalysis is the cached trip-level result. Values returned from the
// cache are shared between callers and must not be modified.
type WeatherAnalysis struct {
	Destination     string             `json:"destination"`
	StartDate       string             `json:"start_date"`
	DurationDays    int                `json:"duration_days"`
	DailyForecast   []DailySuitability `json:"daily_forecast"`
	WeatherScore    float64            `json:"weather_score"`
	WeatherSuitable bool               `json:"weather_suitable"`
	WeatherAlerts   []string           `json:"weather_alerts"`
	Recommendations []string           `json:"recommendations"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// CurrentConditions is the provider's "right now" observation.
type CurrentConditions struct {
	Location   string    `json:"location"`
	Condition  string    `json:"condition"`
	TempC      float64   `json:"temp_c"`
	FeelsLikeC float64   `json:"feels_like_c"`
	Humidity   int       `json:"humidity"`
	WindKph    float64   `json:"wind_kph"`
	PrecipMM   float64   `json:"precip_mm"`
	UV         float64   `json:"uv"`
	IsDay      bool      `json:"is_day"`
	ObservedAt time.Time `json:"observed_at"`
}

// CurrentReport combines current conditions with a short daily outlook.
type CurrentReport struct {
	Destination         string             `json:"destination"`
	Current             CurrentConditions  `json:"current"`
	DailyWeather        []DailySuitability `json:"daily_weather"`
	OverallWeatherScore float64            `json:"overall_weather_score"`
	WeatherAlerts       []string           `json:"weather_alerts"`
}

// Activity is a caller-supplied itinerary entry. Only "type" is interpreted;
// every other field is passed through untouched.
type Activity map[string]any

// Type returns the declared activity type, defaulting to "outdoor".
func (a Activity) Type() string {
	if t, ok := a["type"].(string); ok && t != "" {
		return t
	}
	return "outdoor"
}
