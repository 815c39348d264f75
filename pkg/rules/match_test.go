package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchWhen_Operators(t *testing.T) {
	request := map[string]any{
		"type":  "x",
		"count": float64(5),
		"tags":  []any{"a", "b"},
		"name":  "hello world",
		"user":  map[string]any{"id": "u-1"},
	}
	metadata := map[string]any{
		"authorization": "Bearer token",
		"x-env":         "prod",
	}

	tests := []struct {
		name string
		when map[string]any
		want bool
	}{
		{"literal_equal", map[string]any{"request.type": "x"}, true},
		{"literal_not_equal", map[string]any{"request.type": "y"}, false},
		{"literal_number_coercion", map[string]any{"request.count": "5"}, true},
		{"nested_path", map[string]any{"request.user.id": "u-1"}, true},
		{"metadata_lookup", map[string]any{"metadata.authorization": "Bearer token"}, true},
		{"metadata_case_insensitive", map[string]any{"metadata.Authorization": "Bearer token"}, true},
		{"eq", map[string]any{"request.type": map[string]any{"eq": "x"}}, true},
		{"ne", map[string]any{"request.type": map[string]any{"ne": "y"}}, true},
		{"gt_pass", map[string]any{"request.count": map[string]any{"gt": float64(4)}}, true},
		{"gt_fail", map[string]any{"request.count": map[string]any{"gt": float64(5)}}, false},
		{"gte", map[string]any{"request.count": map[string]any{"gte": float64(5)}}, true},
		{"lt", map[string]any{"request.count": map[string]any{"lt": float64(6)}}, true},
		{"lte_fail", map[string]any{"request.count": map[string]any{"lte": float64(4)}}, false},
		{"numeric_on_non_number_fails", map[string]any{"request.type": map[string]any{"gt": float64(1)}}, false},
		{"in_pass", map[string]any{"request.type": map[string]any{"in": []any{"x", "y"}}}, true},
		{"in_fail", map[string]any{"request.type": map[string]any{"in": []any{"z"}}}, false},
		{"in_non_array_fails", map[string]any{"request.type": map[string]any{"in": "x"}}, false},
		{"contains_substring", map[string]any{"request.name": map[string]any{"contains": "world"}}, true},
		{"contains_element", map[string]any{"request.tags": map[string]any{"contains": "a"}}, true},
		{"contains_fail", map[string]any{"request.tags": map[string]any{"contains": "c"}}, false},
		{"regex_pass", map[string]any{"request.name": map[string]any{"regex": "^hello"}}, true},
		{"regex_fail", map[string]any{"request.name": map[string]any{"regex": "^world"}}, false},
		{"regex_invalid_fails_leaf", map[string]any{"request.name": map[string]any{"regex": "([bad"}}, false},
		{"exists_true", map[string]any{"request.type": map[string]any{"exists": true}}, true},
		{"exists_false", map[string]any{"request.missing": map[string]any{"exists": false}}, true},
		{"exists_missing", map[string]any{"request.missing": map[string]any{"exists": true}}, false},
		{"not", map[string]any{"request.type": map[string]any{"not": map[string]any{"eq": "y"}}}, true},
		{"not_literal", map[string]any{"request.type": map[string]any{"not": "x"}}, false},
		{"bare_path_defaults_to_request", map[string]any{"type": "x"}, true},
		{"all_must_pass", map[string]any{"request.type": "x", "request.count": map[string]any{"gt": float64(10)}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher(request, metadata)
			assert.Equal(t, tt.want, m.MatchWhen(tt.when))
		})
	}
}

func TestMatchTopLevel(t *testing.T) {
	request := map[string]any{"kind": "ping"}
	metadata := map[string]any{"x-token": "secret"}

	m := NewMatcher(request, metadata)

	assert.True(t, m.MatchTopLevel(nil))
	assert.True(t, m.MatchTopLevel(&MatchExpr{
		Metadata: map[string]any{"x-token": "secret"},
		Request:  map[string]any{"kind": "ping"},
	}))
	assert.False(t, m.MatchTopLevel(&MatchExpr{
		Metadata: map[string]any{"x-token": "wrong"},
	}))
	assert.False(t, m.MatchTopLevel(&MatchExpr{
		Request: map[string]any{"kind": map[string]any{"ne": "ping"}},
	}))
}

// Property: выбранный вариант имеет максимальный приоритет, ничьи
// решаются порядком объявления
func TestSelect_PriorityOrdering(t *testing.T) {
	rule := &Rule{Responses: []ResponseOption{
		{When: map[string]any{"request.type": "x"}, Body: map[string]any{"id": float64(1)}, Priority: 1},
		{When: map[string]any{"request.type": "x"}, Body: map[string]any{"id": float64(2)}, Priority: 5},
		{When: map[string]any{"request.type": "x"}, Body: map[string]any{"id": float64(3)}, Priority: 3},
	}}

	opt := Select(rule, map[string]any{"type": "x"}, nil)
	assert.Equal(t, map[string]any{"id": float64(2)}, opt.Body)
}

func TestSelect_TieBrokenByDeclarationOrder(t *testing.T) {
	rule := &Rule{Responses: []ResponseOption{
		{Body: map[string]any{"id": float64(1)}, Priority: 2},
		{Body: map[string]any{"id": float64(2)}, Priority: 2},
	}}

	opt := Select(rule, map[string]any{}, nil)
	assert.Equal(t, map[string]any{"id": float64(1)}, opt.Body)
}

// Property: при провале верхнеуровневого match выбирается вариант без when
func TestSelect_FallbackDiscipline(t *testing.T) {
	rule := &Rule{
		Match: &MatchExpr{Request: map[string]any{"kind": "expected"}},
		Responses: []ResponseOption{
			{When: map[string]any{"request.kind": "other"}, Body: map[string]any{"id": float64(1)}, Priority: 9},
			{Body: map[string]any{"id": float64(2)}, Priority: 1},
			{Body: map[string]any{"id": float64(3)}, Priority: 4},
		},
	}

	opt := Select(rule, map[string]any{"kind": "unexpected"}, nil)
	assert.Nil(t, opt.When)
	assert.Equal(t, map[string]any{"id": float64(3)}, opt.Body)
}

func TestSelect_AbsentWhenCountsAsMatching(t *testing.T) {
	rule := &Rule{Responses: []ResponseOption{
		{When: map[string]any{"request.type": "y"}, Body: map[string]any{"id": float64(1)}, Priority: 9},
		{Body: map[string]any{"id": float64(2)}},
	}}

	opt := Select(rule, map[string]any{"type": "x"}, nil)
	assert.Equal(t, map[string]any{"id": float64(2)}, opt.Body)
}

func TestSelect_DefaultOnMissingRule(t *testing.T) {
	opt := Select(nil, map[string]any{}, nil)
	assert.Equal(t, map[string]any{}, opt.Body)
	assert.Equal(t, "0", opt.Trailers["grpc-status"])

	opt = Select(&Rule{}, map[string]any{}, nil)
	assert.Equal(t, "0", opt.Trailers["grpc-status"])
}

func TestSelect_NoSuitableOptionFallsBackToDefault(t *testing.T) {
	rule := &Rule{Responses: []ResponseOption{
		{When: map[string]any{"request.type": "never"}, Body: map[string]any{"id": float64(1)}},
	}}

	opt := Select(rule, map[string]any{"type": "x"}, nil)
	assert.Equal(t, map[string]any{}, opt.Body)
	assert.Equal(t, "0", opt.Trailers["grpc-status"])
}
