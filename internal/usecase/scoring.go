package usecase

import (
	"errors"
	"fmt"
	"math"

	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/questionnaire"
)

// Denominator selects what the score is normalized against.
type Denominator string

const (
	// DenominatorAnswered scores against the questions actually answered.
	DenominatorAnswered Denominator = "answered"
	// DenominatorConfigured scores against every configured question, so an
	// incomplete flow scores lower.
	DenominatorConfigured Denominator = "configured"
)

// Scorer turns recorded answers into a percentage in [0,100].
type Scorer struct {
	questions   *questionnaire.Questionnaire
	denominator Denominator
}

func NewScorer(q *questionnaire.Questionnaire, d Denominator) (Scorer, error) {
	if q == nil {
		return Scorer{}, errors.New("usecase: questionnaire must not be nil")
	}
	switch d {
	case "":
		d = DenominatorAnswered
	case DenominatorAnswered, DenominatorConfigured:
	default:
		return Scorer{}, fmt.Errorf("usecase: unknown score denominator %q", d)
	}
	return Scorer{questions: q, denominator: d}, nil
}

// Score computes round(total/max*100). Answers without a scoring entry add
// nothing to total but still count towards max.
func (s Scorer) Score(responses map[string]domain.Response) int {
	total, possible := 0, 0
	for questionID, r := range responses {
		if score, ok := s.questions.Score(questionID, r.Value); ok {
			total += score
		}
		possible += questionnaire.MaxScore
	}
	if s.denominator == DenominatorConfigured {
		possible = questionnaire.MaxScore * s.questions.Len()
	}
	if possible == 0 {
		return 0
	}
	pct := int(math.Round(float64(total) / float64(possible) * 100))
	return min(pct, 100)
}
