package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCEL_Eval(t *testing.T) {
	msg := map[string]any{
		"age":   float64(21),
		"name":  "alice",
		"score": float64(0),
		"flags": map[string]any{"vip": true},
	}

	tests := []struct {
		expr string
		want bool
	}{
		{"this.age > 18", true},
		{"this.age < 18", false},
		{"this.age >= 21", true},
		{"this.age <= 20", false},
		{"this.name == 'alice'", true},
		{"this.name != 'bob'", true},
		{"this.age > 18 && this.name == 'alice'", true},
		{"this.age > 100 || this.name == 'alice'", true},
		{"this.age > 100 && this.name == 'alice'", false},
		{"!(this.age > 100)", true},
		{"(this.age > 18) && (this.score >= 0)", true},
		{"this.name < 'bob'", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			expr, err := CompileCEL(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, EvalCEL(expr, msg))
		})
	}
}

func TestCEL_ParseErrors(t *testing.T) {
	bad := []string{
		"",
		"this.age >",
		"this.age > 18 &&",
		"(this.age > 18",
		"this.age ** 2",
		"'unterminated",
	}
	for _, expr := range bad {
		t.Run(expr, func(t *testing.T) {
			_, err := CompileCEL(expr)
			assert.Error(t, err)
		})
	}
}

func TestCEL_EvalErrorsReturnFalse(t *testing.T) {
	msg := map[string]any{"age": float64(1)}

	// Отсутствующее поле и нечисловые операнды дают false, не панику
	tests := []string{
		"this.missing > 1",
		"this.age && this.age",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			expr, err := CompileCEL(raw)
			require.NoError(t, err)
			assert.False(t, EvalCEL(expr, msg))
		})
	}
}

func TestCEL_ThisAlone(t *testing.T) {
	expr, err := CompileCEL("this > 5")
	require.NoError(t, err)

	assert.True(t, EvalCEL(expr, float64(10)))
	assert.False(t, EvalCEL(expr, float64(3)))
}
