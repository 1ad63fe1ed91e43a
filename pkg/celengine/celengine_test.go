package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	attrs := map[string]any{
		"eco_points":             int64(320),
		"carbon_footprint_saved": 12.5,
		"streak_days":            int64(3),
		"badges":                 []string{"eco-warrior"},
	}

	ok, err := Evaluate("eco_points >= 300 && carbon_footprint_saved > 10.0", attrs)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate("streak_days >= 7", attrs)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = Evaluate(`"eco-warrior" in badges`, attrs)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluateErrors(t *testing.T) {
	attrs := map[string]any{"eco_points": int64(1)}

	_, err := Evaluate("eco_points +", attrs)
	require.Error(t, err)

	_, err = Evaluate("eco_points + 1", attrs)
	require.ErrorContains(t, err, "expected bool")

	_, err = Evaluate("unknown_field > 1", attrs)
	require.Error(t, err)
}

func TestEnvKeyDistinguishesTypes(t *testing.T) {
	a := envKey(map[string]any{"x": int64(1), "y": "s"})
	b := envKey(map[string]any{"y": "t", "x": int64(2)})
	c := envKey(map[string]any{"x": 1.5, "y": "s"})

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestValidateExpression(t *testing.T) {
	attrs := map[string]any{"level": int64(2), "badges": []string{"b-1"}}

	require.NoError(t, ValidateExpression("level > 1", attrs))
	require.NoError(t, ValidateExpression(`"b-1" in badges`, attrs))
	require.Error(t, ValidateExpression("level >", attrs))
	require.Error(t, ValidateExpression("streak_days > 1", attrs))
	require.ErrorContains(t, ValidateExpression("level + 1", attrs), "must yield bool")
}
