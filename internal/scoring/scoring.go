// Package scoring turns provider forecasts into activity suitability scores.
// Everything here is pure: no I/O, no clocks, no shared state.
package scoring

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kjstillabower/trip-weather-service/internal/models"
)

// ActivityHint selects which per-day score drives the trip-level rollup.
type ActivityHint string

const (
	HintOutdoor ActivityHint = "outdoor"
	HintIndoor  ActivityHint = "indoor"
	HintBeach   ActivityHint = "beach"
	HintMixed   ActivityHint = "mixed"
)

// SuitableThreshold is the minimum trip score considered suitable.
const SuitableThreshold = 5.0

const (
	minDayScore = 1
	maxDayScore = 10
	lowOutdoor  = 4
	highOutdoor = 8
)

// conditionRule maps a condition keyword to an outdoor penalty. Rules are
// matched in order, so more specific keywords come first.
type conditionRule struct {
	keyword string
	penalty int
	severe  bool
	wet     bool
}

var conditionRules = []conditionRule{
	{keyword: "thunder", penalty: 6, severe: true, wet: true},
	{keyword: "storm", penalty: 6, severe: true, wet: true},
	{keyword: "hurricane", penalty: 7, severe: true, wet: true},
	{keyword: "cyclone", penalty: 7, severe: true, wet: true},
	{keyword: "tornado", penalty: 7, severe: true},
	{keyword: "blizzard", penalty: 6, severe: true, wet: true},
	{keyword: "torrential", penalty: 5, severe: true, wet: true},
	{keyword: "heavy rain", penalty: 5, severe: true, wet: true},
	{keyword: "heavy snow", penalty: 5, severe: true, wet: true},
	{keyword: "freezing", penalty: 4, wet: true},
	{keyword: "sleet", penalty: 4, wet: true},
	{keyword: "ice pellets", penalty: 4, wet: true},
	{keyword: "snow", penalty: 4, wet: true},
	{keyword: "light rain", penalty: 2, wet: true},
	{keyword: "shower", penalty: 3, wet: true},
	{keyword: "rain", penalty: 3, wet: true},
	{keyword: "drizzle", penalty: 2, wet: true},
	{keyword: "fog", penalty: 2},
	{keyword: "mist", penalty: 2},
	{keyword: "haze", penalty: 1},
	{keyword: "overcast", penalty: 1},
}

func matchCondition(condition string) conditionRule {
	c := strings.ToLower(condition)
	for _, r := range conditionRules {
		if strings.Contains(c, r.keyword) {
			return r
		}
	}
	return conditionRule{}
}

// dayScores is the internal per-day result before it is shaped into models.
type dayScores struct {
	outdoor int
	indoor  int
	beach   int
	rule    conditionRule
}

func scoreForecast(d models.DailyForecast) dayScores {
	rule := matchCondition(d.Condition)

	outdoor := maxDayScore - rule.penalty
	outdoor -= precipPenalty(d.TotalPrecipMM)
	outdoor -= rainChancePenalty(d.ChanceOfRain)
	outdoor -= temperaturePenalty(d.MaxTempC, d.MinTempC)
	outdoor -= windPenalty(d.MaxWindKph)
	outdoor = clampDay(outdoor)

	// Indoor plans gain value as outdoor conditions get worse.
	indoor := clampDay(5 + int(math.Round(float64(maxDayScore-outdoor)/2)))

	return dayScores{
		outdoor: outdoor,
		indoor:  indoor,
		beach:   beachScore(d, outdoor, rule),
		rule:    rule,
	}
}

func precipPenalty(mm float64) int {
	switch {
	case mm >= 30:
		return 3
	case mm >= 10:
		return 2
	case mm >= 2:
		return 1
	}
	return 0
}

func rainChancePenalty(pct int) int {
	switch {
	case pct >= 80:
		return 2
	case pct >= 50:
		return 1
	}
	return 0
}

func temperaturePenalty(maxC, minC float64) int {
	p := 0
	switch {
	case maxC >= 40:
		p += 4
	case maxC >= 35:
		p += 2
	case maxC >= 32:
		p++
	case maxC < 10:
		p += 2
	case maxC < 15:
		p++
	}
	switch {
	case minC <= -10:
		p += 4
	case minC <= 0:
		p += 2
	}
	return p
}

func windPenalty(kph float64) int {
	switch {
	case kph >= 60:
		return 3
	case kph >= 40:
		return 2
	case kph >= 30:
		return 1
	}
	return 0
}

func beachScore(d models.DailyForecast, outdoor int, rule conditionRule) int {
	s := outdoor
	switch {
	case d.MaxTempC < 20:
		s -= 4
	case d.MaxTempC < 25:
		s -= 2
	case d.MaxTempC >= 28 && rule.penalty == 0 && !rule.wet:
		s++
	}
	if d.MaxWindKph >= 30 {
		s--
	}
	if d.UV >= 11 {
		s--
	}
	return clampDay(s)
}

func clampDay(v int) int {
	if v < minDayScore {
		return minDayScore
	}
	if v > maxDayScore {
		return maxDayScore
	}
	return v
}

// ScoreDay rates a single forecast day for one activity type. Types other than
// indoor and beach categories are scored as outdoor.
func ScoreDay(day models.DailyForecast, activityType string) int {
	s := scoreForecast(day)
	switch categorize(activityType) {
	case HintIndoor:
		return s.indoor
	case HintBeach:
		return s.beach
	default:
		return s.outdoor
	}
}

// categorize maps a free-form activity type onto a score category.
func categorize(activityType string) ActivityHint {
	t := strings.ToLower(strings.TrimSpace(activityType))
	switch {
	case t == "":
		return HintOutdoor
	case strings.Contains(t, "beach"), strings.Contains(t, "water"), strings.Contains(t, "swim"),
		strings.Contains(t, "surf"), strings.Contains(t, "snorkel"):
		return HintBeach
	case strings.Contains(t, "indoor"), strings.Contains(t, "museum"), strings.Contains(t, "shopping"),
		strings.Contains(t, "food"), strings.Contains(t, "nightlife"), strings.Contains(t, "spa"),
		strings.Contains(t, "gallery"):
		return HintIndoor
	}
	return HintOutdoor
}

// Derive scores every forecast day and rolls the results into a trip-level
// analysis. It never fails; an empty forecast yields a zero score.
func Derive(destination string, days []models.DailyForecast, hint ActivityHint) models.WeatherAnalysis {
	out := models.WeatherAnalysis{
		Destination:     destination,
		DurationDays:    len(days),
		DailyForecast:   make([]models.DailySuitability, 0, len(days)),
		WeatherAlerts:   make([]string, 0),
		Recommendations: make([]string, 0),
	}

	var lowDays, goodDays []int
	var sum float64
	for i, d := range days {
		s := scoreForecast(d)
		out.DailyForecast = append(out.DailyForecast, models.DailySuitability{
			Date:            d.Date,
			Condition:       d.Condition,
			OutdoorScore:    s.outdoor,
			IndoorScore:     s.indoor,
			BeachScore:      s.beach,
			MaxTempC:        d.MaxTempC,
			MinTempC:        d.MinTempC,
			PrecipMM:        d.TotalPrecipMM,
			ChanceOfRain:    d.ChanceOfRain,
			Recommendations: dayRecommendations(d, s),
		})
		if alert, ok := dayAlert(i+1, d, s.rule); ok {
			out.WeatherAlerts = append(out.WeatherAlerts, alert)
		}
		if s.outdoor <= lowOutdoor {
			lowDays = append(lowDays, i+1)
		}
		if s.outdoor >= highOutdoor {
			goodDays = append(goodDays, i+1)
		}
		sum += weighted(s, hint)
	}

	if len(days) > 0 {
		out.WeatherScore = clampTrip(math.Round(sum/float64(len(days))*10) / 10)
	}
	out.WeatherSuitable = out.WeatherScore >= SuitableThreshold
	out.Recommendations = tripRecommendations(len(days), lowDays, goodDays, len(out.WeatherAlerts), out.WeatherScore)
	return out
}

func weighted(s dayScores, hint ActivityHint) float64 {
	switch hint {
	case HintIndoor:
		return float64(s.indoor)
	case HintBeach:
		return float64(s.beach)
	case HintMixed:
		return 0.5*float64(s.outdoor) + 0.25*float64(s.indoor) + 0.25*float64(s.beach)
	default:
		return float64(s.outdoor)
	}
}

func clampTrip(v float64) float64 {
	return math.Max(0, math.Min(10, v))
}

// dayAlert returns at most one alert per day, listing every severe reason.
func dayAlert(dayNum int, d models.DailyForecast, rule conditionRule) (string, bool) {
	var reasons []string
	if rule.severe {
		reasons = append(reasons, "severe weather ("+strings.ToLower(d.Condition)+")")
	}
	if d.MaxTempC >= 40 {
		reasons = append(reasons, fmt.Sprintf("extreme heat up to %.0f°C", d.MaxTempC))
	}
	if d.MinTempC <= -10 {
		reasons = append(reasons, fmt.Sprintf("extreme cold down to %.0f°C", d.MinTempC))
	}
	if d.MaxWindKph >= 60 {
		reasons = append(reasons, fmt.Sprintf("gale-force winds up to %.0f km/h", d.MaxWindKph))
	}
	if d.TotalPrecipMM >= 50 {
		reasons = append(reasons, fmt.Sprintf("flooding risk with %.0f mm of rain", d.TotalPrecipMM))
	}
	if len(reasons) == 0 {
		return "", false
	}
	label := fmt.Sprintf("Day %d", dayNum)
	if d.Date != "" {
		label += " (" + d.Date + ")"
	}
	return label + ": " + strings.Join(reasons, "; "), true
}

func dayRecommendations(d models.DailyForecast, s dayScores) []string {
	recs := make([]string, 0, 4)
	switch {
	case s.outdoor >= highOutdoor:
		recs = append(recs, "Great day for outdoor sightseeing and activities")
	case s.outdoor > lowOutdoor:
		recs = append(recs, "Mix outdoor and indoor plans; use mornings and evenings outdoors")
	default:
		recs = append(recs, "Focus on indoor activities such as museums, galleries and markets")
	}
	if s.rule.wet || d.ChanceOfRain >= 50 {
		recs = append(recs, "Carry an umbrella or rain jacket")
	}
	if d.MaxTempC >= 32 {
		recs = append(recs, "Stay hydrated and avoid the midday sun")
	}
	if d.MaxTempC < 12 || d.MinTempC <= 5 {
		recs = append(recs, "Pack warm layers")
	}
	if d.MaxWindKph >= 40 {
		recs = append(recs, "Expect strong winds; avoid boat trips and exposed viewpoints")
	}
	if s.beach >= highOutdoor {
		recs = append(recs, "Good conditions for the beach")
	}
	if d.UV >= 8 {
		recs = append(recs, "High UV index: use sunscreen")
	}
	return recs
}

func tripRecommendations(total int, lowDays, goodDays []int, alerts int, score float64) []string {
	if total == 0 {
		return []string{"No forecast data available; plan flexible indoor and outdoor options"}
	}
	var recs []string
	switch {
	case len(lowDays)*2 > total:
		recs = append(recs, "Plan indoor alternatives for days "+joinDays(lowDays))
	case len(lowDays) > 0:
		recs = append(recs, "Keep indoor backups ready for days "+joinDays(lowDays))
	}
	if len(goodDays) > 0 && len(goodDays) < total {
		recs = append(recs, "Schedule outdoor highlights on days "+joinDays(goodDays))
	}
	if alerts > 0 {
		recs = append(recs, "Monitor local weather advisories and keep bookings flexible")
	}
	if len(lowDays) == 0 && score >= 7 {
		recs = append(recs, "Weather looks favourable for outdoor activities throughout the trip")
	}
	if len(recs) == 0 {
		recs = append(recs, "Mixed conditions expected; keep a flexible plan")
	}
	return recs
}

func joinDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ", ")
}
