package models

// ConfidenceLevel buckets a confidence score for display.
type ConfidenceLevel string

const (
	ConfidenceVeryLow ConfidenceLevel = "very_low"
	ConfidenceLow     ConfidenceLevel = "low"
	ConfidenceMedium  ConfidenceLevel = "medium"
	ConfidenceHigh    ConfidenceLevel = "high"
)

// ConfidenceScore is a 0-100 composite with the weighted component breakdown
// that explains it. Score equals the weighted sum of Components; the weights
// sum to 1.
type ConfidenceScore struct {
	Score      float64            `json:"score"`
	Level      ConfidenceLevel    `json:"level"`
	Components map[string]float64 `json:"components"`
}

// LevelThresholds holds the score cutoffs separating confidence levels.
type LevelThresholds struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultLevelThresholds returns the standard 80/60/40 cutoffs.
func DefaultLevelThresholds() LevelThresholds {
	return LevelThresholds{High: 80, Medium: 60, Low: 40}
}

// LevelForScore buckets a score using the given thresholds.
func LevelForScore(score float64, t LevelThresholds) ConfidenceLevel {
	switch {
	case score >= t.High:
		return ConfidenceHigh
	case score >= t.Medium:
		return ConfidenceMedium
	case score >= t.Low:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}
