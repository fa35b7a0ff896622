package alerts

// Validate checks the threshold config invariants. Missing fields are reported
// before bound consistency.
func (c ThresholdConfig) Validate() error {
	if !c.TimeWindow.Valid() {
		return Invalid("config.time_window", "unsupported time window %q", c.TimeWindow)
	}
	if !c.Aggregation.Valid() {
		return Invalid("config.aggregation", "unsupported aggregation %q", c.Aggregation)
	}
	switch c.Comparison {
	case GreaterThan:
		if c.ThresholdUpper == nil {
			return Invalid("config.threshold_upper", "required for greater_than")
		}
	case LessThan:
		if c.ThresholdLower == nil {
			return Invalid("config.threshold_lower", "required for less_than")
		}
	case Between:
		if c.ThresholdUpper == nil && c.ThresholdLower == nil {
			return Invalid("config", "between requires threshold_upper or threshold_lower")
		}
		if c.ThresholdUpper != nil && c.ThresholdLower != nil && *c.ThresholdLower > *c.ThresholdUpper {
			return Invalid("config.threshold_lower", "must not exceed threshold_upper")
		}
	default:
		return Invalid("config.comparison", "unsupported comparison %q", c.Comparison)
	}
	return nil
}

// ValidateForEvaluation checks what a threshold evaluation needs from the alert record.
func (a Alert) ValidateForEvaluation() error {
	if a.ConfigError != nil {
		return a.ConfigError
	}
	if a.DatasetName == "" {
		return Invalid("dataset_name", "required")
	}
	if a.MetricName() == "" {
		return Invalid("config.metric", "required")
	}
	return a.Config.Validate()
}
