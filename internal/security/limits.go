package security

import "time"

type Limits struct {
	MaxQueryDuration time.Duration
	MaxResultSize    int
	MaxSampleRows    int
}

func DefaultLimits() Limits {
	return Limits{
		MaxQueryDuration: 30 * time.Second,
		MaxResultSize:    1000,
		MaxSampleRows:    10000,
	}
}

// ClampResult applies a default to non-positive limits and caps the rest at MaxResultSize.
func (l Limits) ClampResult(limit, fallback int) int {
	if limit <= 0 {
		limit = fallback
	}
	if l.MaxResultSize > 0 && limit > l.MaxResultSize {
		return l.MaxResultSize
	}
	return limit
}
