// Package confidence computes the composite trust score attached to every
// clinical answer. Scoring is a pure function of pipeline facts so the same
// run always produces the same score.
package confidence

import (
	"math"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// Component weights. They sum to 1.
const (
	WeightEntity    = 0.4
	WeightSchema    = 0.3
	WeightExecution = 0.2
	WeightSanity    = 0.1
)

// Component names in the score breakdown.
const (
	ComponentEntity    = "entity_match"
	ComponentSchema    = "schema_resolution"
	ComponentExecution = "execution"
	ComponentSanity    = "result_sanity"
)

// neutralEntityScore applies when a question needed no entity lookup, such
// as plain subject counts. It neither rewards nor punishes.
const neutralEntityScore = 70

// Input carries the pipeline facts the score derives from.
type Input struct {
	Entities   []models.EntityMatch
	Resolution *models.TableResolution
	Validation *models.ValidationResult
	Execution  *models.ExecutionResult
	// Attempt is the generation attempt that finally succeeded, starting at 1.
	Attempt int
	// MaxResultRows is the configured row cap, used to spot truncated results.
	MaxResultRows int
}

// Scorer buckets composite scores with configurable thresholds.
type Scorer struct {
	thresholds models.LevelThresholds
}

// New creates a scorer.
func New(thresholds models.LevelThresholds) *Scorer {
	return &Scorer{thresholds: thresholds}
}

// Score computes the weighted composite and its level.
func (s *Scorer) Score(in Input) *models.ConfidenceScore {
	components := map[string]float64{
		ComponentEntity:    entityComponent(in.Entities),
		ComponentSchema:    schemaComponent(in.Resolution, in.Validation),
		ComponentExecution: executionComponent(in.Execution, in.Attempt),
		ComponentSanity:    sanityComponent(in.Execution, in.MaxResultRows),
	}

	score := components[ComponentEntity]*WeightEntity +
		components[ComponentSchema]*WeightSchema +
		components[ComponentExecution]*WeightExecution +
		components[ComponentSanity]*WeightSanity
	score = math.Round(score*10) / 10

	return &models.ConfidenceScore{
		Score:      score,
		Level:      models.LevelForScore(score, s.thresholds),
		Components: components,
	}
}

// entityComponent is the mean match confidence, or neutral when the
// question named no clinical terms.
func entityComponent(entities []models.EntityMatch) float64 {
	if len(entities) == 0 {
		return neutralEntityScore
	}
	sum := 0.0
	for _, e := range entities {
		sum += e.Confidence
	}
	return sum / float64(len(entities))
}

// schemaComponent starts from a clean resolution and deducts for fallbacks,
// assumptions, and validation warnings.
func schemaComponent(resolution *models.TableResolution, validation *models.ValidationResult) float64 {
	if resolution == nil {
		return 0
	}
	score := 100.0
	if resolution.FallbackUsed {
		score -= 30
	}
	score -= 5 * float64(len(resolution.Assumptions))
	if validation != nil {
		score -= 10 * float64(len(validation.Warnings))
	}
	return clamp(score)
}

// executionComponent rewards first-attempt success and deducts per
// self-correction round.
func executionComponent(execution *models.ExecutionResult, attempt int) float64 {
	if execution == nil || !execution.Success {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	return clamp(100 - 25*float64(attempt-1))
}

// sanityComponent is a step function over result shape: data present is
// healthy, an empty result is suspect, a truncated result in between.
func sanityComponent(execution *models.ExecutionResult, maxRows int) float64 {
	switch {
	case execution == nil || !execution.Success:
		return 0
	case execution.RowCount == 0:
		return 50
	case maxRows > 0 && execution.RowCount >= maxRows:
		return 70
	default:
		return 100
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
