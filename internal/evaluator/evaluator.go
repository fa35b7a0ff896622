package evaluator

import (
	"context"
	"fmt"
	"strconv"

	"kpiwatch-backend/internal/alerts"
	"kpiwatch-backend/internal/kpi"
)

type Bound string

const (
	BoundNone  Bound = ""
	BoundUpper Bound = "upper"
	BoundLower Bound = "lower"
)

type Result struct {
	Triggered bool
	Value     float64
	Reason    string
	Threshold *float64
	Bound     Bound
}

type Evaluator struct {
	source kpi.Source
}

func New(source kpi.Source) *Evaluator {
	return &Evaluator{source: source}
}

// Evaluate fetches the configured aggregate and applies the threshold policy.
// It has no side effects.
func (e *Evaluator) Evaluate(ctx context.Context, alert alerts.Alert) (Result, error) {
	if alert.Type == alerts.TypeAnomaly {
		return Result{}, fmt.Errorf("anomaly alert %d: %w", alert.ID, alerts.ErrNotImplemented)
	}
	if alert.Type != alerts.TypeThreshold {
		return Result{}, alerts.Invalid("alert_type", "unsupported alert type %q", alert.Type)
	}
	if err := alert.ValidateForEvaluation(); err != nil {
		return Result{}, err
	}
	cfg := alert.Config
	value, err := e.source.Aggregate(ctx, kpi.Query{
		Metric:  alert.MetricName(),
		Dataset: alert.DatasetName,
		Window:  cfg.TimeWindow,
	}, cfg.Aggregation)
	if err != nil {
		return Result{}, err
	}
	return Decide(cfg, value), nil
}

// Decide applies the comparison to an already fetched value. Upper bounds are
// checked before lower bounds, so a between alert reports the upper breach first.
func Decide(cfg alerts.ThresholdConfig, value float64) Result {
	res := Result{Value: value}
	switch cfg.Comparison {
	case alerts.GreaterThan:
		if cfg.ThresholdUpper != nil && value > *cfg.ThresholdUpper {
			return breach(res, BoundUpper, *cfg.ThresholdUpper)
		}
	case alerts.LessThan:
		if cfg.ThresholdLower != nil && value < *cfg.ThresholdLower {
			return breach(res, BoundLower, *cfg.ThresholdLower)
		}
	case alerts.Between:
		if cfg.ThresholdUpper != nil && value > *cfg.ThresholdUpper {
			return breach(res, BoundUpper, *cfg.ThresholdUpper)
		}
		if cfg.ThresholdLower != nil && value < *cfg.ThresholdLower {
			return breach(res, BoundLower, *cfg.ThresholdLower)
		}
	}
	return res
}

func breach(res Result, bound Bound, threshold float64) Result {
	res.Triggered = true
	res.Bound = bound
	res.Threshold = &threshold
	if bound == BoundUpper {
		res.Reason = fmt.Sprintf("Value %s exceeded upper threshold %s by %s", formatFloat(res.Value), formatFloat(threshold), formatFloat(res.Value-threshold))
	} else {
		res.Reason = fmt.Sprintf("Value %s fell below lower threshold %s by %s", formatFloat(res.Value), formatFloat(threshold), formatFloat(threshold-res.Value))
	}
	return res
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
