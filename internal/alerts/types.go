package alerts

import (
	"strings"
	"time"
)

type AlertType string

const (
	TypeThreshold AlertType = "threshold"
	TypeAnomaly   AlertType = "anomaly"
)

type CheckFrequency string

const (
	Every5Min   CheckFrequency = "5min"
	Every15Min  CheckFrequency = "15min"
	Every30Min  CheckFrequency = "30min"
	EveryHour   CheckFrequency = "1hour"
	Every6Hour  CheckFrequency = "6hour"
	Every12Hour CheckFrequency = "12hour"
	EveryDay    CheckFrequency = "1day"
)

var frequencyMinutes = map[CheckFrequency]int{
	Every5Min:   5,
	Every15Min:  15,
	Every30Min:  30,
	EveryHour:   60,
	Every6Hour:  360,
	Every12Hour: 720,
	EveryDay:    1440,
}

// Duration maps the frequency to its period. Unknown values fall back to five minutes.
func (f CheckFrequency) Duration() time.Duration {
	if m, ok := frequencyMinutes[f]; ok {
		return time.Duration(m) * time.Minute
	}
	return 5 * time.Minute
}

func (f CheckFrequency) Valid() bool {
	_, ok := frequencyMinutes[f]
	return ok
}

type TimeWindow string

const (
	Window15Min TimeWindow = "15min"
	Window1Hour TimeWindow = "1hour"
	Window1Day  TimeWindow = "1day"
	Window1Week TimeWindow = "1week"
)

var windowDurations = map[TimeWindow]time.Duration{
	Window15Min: 15 * time.Minute,
	Window1Hour: time.Hour,
	Window1Day:  24 * time.Hour,
	Window1Week: 7 * 24 * time.Hour,
}

func (w TimeWindow) Duration() time.Duration {
	return windowDurations[w]
}

func (w TimeWindow) Valid() bool {
	_, ok := windowDurations[w]
	return ok
}

type Comparison string

const (
	GreaterThan Comparison = "greater_than"
	LessThan    Comparison = "less_than"
	Between     Comparison = "between"
)

type Aggregation string

const (
	AggAvg Aggregation = "avg"
	AggSum Aggregation = "sum"
	AggMax Aggregation = "max"
	AggMin Aggregation = "min"
)

func (a Aggregation) Valid() bool {
	switch a {
	case AggAvg, AggSum, AggMax, AggMin:
		return true
	}
	return false
}

type ThresholdConfig struct {
	Metric         string      `json:"metric"`
	ThresholdUpper *float64    `json:"threshold_upper,omitempty"`
	ThresholdLower *float64    `json:"threshold_lower,omitempty"`
	Comparison     Comparison  `json:"comparison"`
	TimeWindow     TimeWindow  `json:"time_window"`
	Aggregation    Aggregation `json:"aggregation"`
}

type Alert struct {
	ID             int64           `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	KPIName        string          `json:"kpi_name"`
	DatasetName    string          `json:"dataset_name"`
	Type           AlertType       `json:"alert_type"`
	Enabled        bool            `json:"enabled"`
	CheckFrequency CheckFrequency  `json:"check_frequency"`
	LastCheckedAt  *time.Time      `json:"last_checked_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	CreatedBy      string          `json:"created_by,omitempty"`
	Config         ThresholdConfig `json:"config"`
	// ConfigError is set when the stored config could not be decoded.
	ConfigError error `json:"-"`
}

// MetricName is the KPI column the alert watches. The config metric wins over kpi_name.
func (a Alert) MetricName() string {
	if m := strings.TrimSpace(a.Config.Metric); m != "" {
		return m
	}
	return strings.TrimSpace(a.KPIName)
}

// Due reports whether the alert should be checked at now. A never-checked alert is due immediately.
func (a Alert) Due(now time.Time) bool {
	if a.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*a.LastCheckedAt) >= a.CheckFrequency.Duration()
}

type TriggerMetadata struct {
	Reason    string          `json:"reason"`
	Threshold *float64        `json:"threshold,omitempty"`
	Config    ThresholdConfig `json:"config"`
}

type Trigger struct {
	ID            int64           `json:"id"`
	AlertID       int64           `json:"alert_id"`
	TriggeredAt   time.Time       `json:"triggered_at"`
	Value         float64         `json:"value"`
	ExpectedValue *float64        `json:"expected_value,omitempty"`
	AnomalyScore  *float64        `json:"anomaly_score,omitempty"`
	Metadata      TriggerMetadata `json:"metadata"`
	Resolved      bool            `json:"resolved"`
	ResolvedAt    *time.Time      `json:"resolved_at,omitempty"`

	AlertName   string `json:"alert_name,omitempty"`
	KPIName     string `json:"kpi_name,omitempty"`
	DatasetName string `json:"dataset_name,omitempty"`
}

type Statistics struct {
	ID           int64     `json:"id,omitempty"`
	AlertID      int64     `json:"alert_id,omitempty"`
	CalculatedAt time.Time `json:"calculated_at"`
	MinValue     float64   `json:"min_value"`
	MaxValue     float64   `json:"max_value"`
	AvgValue     float64   `json:"avg_value"`
	MedianValue  float64   `json:"median_value"`
	StdDevValue  float64   `json:"stddev_value"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	DataPoints   int       `json:"data_points"`
}

// Fresh reports whether the snapshot is younger than maxAge at now.
func (s Statistics) Fresh(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.CalculatedAt) < maxAge
}
