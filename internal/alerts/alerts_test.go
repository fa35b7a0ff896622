package alerts

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func ptr(v float64) *float64 { return &v }

func TestCheckFrequencyDuration(t *testing.T) {
	cases := map[CheckFrequency]time.Duration{
		Every5Min:   5 * time.Minute,
		Every15Min:  15 * time.Minute,
		Every30Min:  30 * time.Minute,
		EveryHour:   time.Hour,
		Every6Hour:  6 * time.Hour,
		Every12Hour: 12 * time.Hour,
		EveryDay:    24 * time.Hour,
		"weekly":    5 * time.Minute,
	}
	for freq, want := range cases {
		if got := freq.Duration(); got != want {
			t.Fatalf("%s: expected %s, got %s", freq, want, got)
		}
	}
}

func TestAlertDue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}
	tests := []struct {
		name string
		last *time.Time
		freq CheckFrequency
		want bool
	}{
		{name: "never checked", last: nil, freq: EveryDay, want: true},
		{name: "exactly one period", last: at(15 * time.Minute), freq: Every15Min, want: true},
		{name: "just under period", last: at(15*time.Minute - time.Second), freq: Every15Min, want: false},
		{name: "long overdue", last: at(48 * time.Hour), freq: EveryDay, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := Alert{CheckFrequency: tc.freq, LastCheckedAt: tc.last}
			if got := a.Due(now); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestMetricNameFallsBackToKPIName(t *testing.T) {
	a := Alert{KPIName: "traffic"}
	if a.MetricName() != "traffic" {
		t.Fatalf("unexpected metric: %s", a.MetricName())
	}
	a.Config.Metric = "dl_pdcp_sdu_traffic_all_qci"
	if a.MetricName() != "dl_pdcp_sdu_traffic_all_qci" {
		t.Fatalf("unexpected metric: %s", a.MetricName())
	}
}

func TestThresholdConfigValidate(t *testing.T) {
	base := ThresholdConfig{TimeWindow: Window1Hour, Aggregation: AggAvg}
	tests := []struct {
		name    string
		mutate  func(c *ThresholdConfig)
		wantErr bool
	}{
		{name: "greater than with upper", mutate: func(c *ThresholdConfig) { c.Comparison = GreaterThan; c.ThresholdUpper = ptr(10) }},
		{name: "greater than without upper", mutate: func(c *ThresholdConfig) { c.Comparison = GreaterThan; c.ThresholdLower = ptr(1) }, wantErr: true},
		{name: "less than with lower", mutate: func(c *ThresholdConfig) { c.Comparison = LessThan; c.ThresholdLower = ptr(1) }},
		{name: "less than without lower", mutate: func(c *ThresholdConfig) { c.Comparison = LessThan }, wantErr: true},
		{name: "between upper only", mutate: func(c *ThresholdConfig) { c.Comparison = Between; c.ThresholdUpper = ptr(5) }},
		{name: "between no bounds", mutate: func(c *ThresholdConfig) { c.Comparison = Between }, wantErr: true},
		{name: "between inverted", mutate: func(c *ThresholdConfig) {
			c.Comparison = Between
			c.ThresholdUpper = ptr(1)
			c.ThresholdLower = ptr(5)
		}, wantErr: true},
		{name: "unknown comparison", mutate: func(c *ThresholdConfig) { c.Comparison = "equals"; c.ThresholdUpper = ptr(1) }, wantErr: true},
		{name: "bad window", mutate: func(c *ThresholdConfig) { c.Comparison = GreaterThan; c.ThresholdUpper = ptr(1); c.TimeWindow = "1year" }, wantErr: true},
		{name: "bad aggregation", mutate: func(c *ThresholdConfig) { c.Comparison = GreaterThan; c.ThresholdUpper = ptr(1); c.Aggregation = "p99" }, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := fmt.Errorf("evaluate: %w", &DataSourceError{Op: "aggregate", Err: cause})
	if !errors.Is(wrapped, ErrDataSource) || !errors.Is(wrapped, cause) {
		t.Fatalf("data source error should match sentinel and cause")
	}
	if !errors.Is(&NoDataError{Metric: "m", Dataset: "d"}, ErrNoData) {
		t.Fatalf("expected no data sentinel")
	}
	if !errors.Is(&NotFoundError{Kind: "alert", ID: "1"}, ErrNotFound) {
		t.Fatalf("expected not found sentinel")
	}
	if errors.Is(&NoDataError{}, ErrNotFound) {
		t.Fatalf("no data must not match not found")
	}
	var nd *NoDataError
	if !errors.As(fmt.Errorf("x: %w", &NoDataError{Metric: "m", Dataset: "d", Window: "1hour"}), &nd) || nd.Window != "1hour" {
		t.Fatalf("expected to unwrap no data error")
	}
}

func TestStatisticsFresh(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := Statistics{CalculatedAt: now.Add(-59 * time.Minute)}
	if !s.Fresh(now, time.Hour) {
		t.Fatalf("expected 59 minute old snapshot to be fresh")
	}
	s.CalculatedAt = now.Add(-time.Hour)
	if s.Fresh(now, time.Hour) {
		t.Fatalf("expected exactly one hour old snapshot to be stale")
	}
}
