package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/questionnaire"
)

func answers(pairs ...string) map[string]domain.Response {
	out := map[string]domain.Response{}
	for i := 0; i+1 < len(pairs); i += 2 {
		out[pairs[i]] = domain.Response{Value: pairs[i+1]}
	}
	return out
}

func TestScore_MiddleOptions(t *testing.T) {
	s, err := NewScorer(questionnaire.Default(), DenominatorAnswered)
	require.NoError(t, err)

	responses := answers(
		"budget", "50000-100000",
		"group_size", "3-5",
		"decision_timeline", "this_month",
		"preferred_seats", "premium",
	)
	require.Equal(t, 75, s.Score(responses))
	require.Equal(t, s.Score(responses), s.Score(responses))
}

func TestScore_Denominators(t *testing.T) {
	partial := answers("budget", "100000+", "group_size", "6+")

	answered, err := NewScorer(questionnaire.Default(), "")
	require.NoError(t, err)
	require.Equal(t, 100, answered.Score(partial))

	configured, err := NewScorer(questionnaire.Default(), DenominatorConfigured)
	require.NoError(t, err)
	require.Equal(t, 50, configured.Score(partial))
}

func TestScore_UnknownValueCountsTowardsMax(t *testing.T) {
	s, err := NewScorer(questionnaire.Default(), DenominatorAnswered)
	require.NoError(t, err)
	// 3 of a possible 6.
	require.Equal(t, 50, s.Score(answers("budget", "100000+", "group_size", "unknown")))
	require.Equal(t, 0, s.Score(answers("unlisted", "x")))
}

func TestScore_Empty(t *testing.T) {
	s, err := NewScorer(questionnaire.Default(), DenominatorAnswered)
	require.NoError(t, err)
	require.Equal(t, 0, s.Score(nil))
}

func TestScore_Rounding(t *testing.T) {
	s, err := NewScorer(questionnaire.Default(), DenominatorAnswered)
	require.NoError(t, err)
	// 4/9 = 44.4, 5/9 = 55.6
	require.Equal(t, 44, s.Score(answers("budget", "0-50000", "group_size", "1-2", "preferred_seats", "general")))
	require.Equal(t, 56, s.Score(answers("budget", "0-50000", "group_size", "1-2", "preferred_seats", "vip")))
}

func TestNewScorer_Validation(t *testing.T) {
	_, err := NewScorer(nil, DenominatorAnswered)
	require.ErrorContains(t, err, "must not be nil")
	_, err = NewScorer(questionnaire.Default(), Denominator("everything"))
	require.ErrorContains(t, err, "unknown score denominator")
}
