package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func set(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func TestDefaultHierarchyRelations(t *testing.T) {
	h := DefaultHierarchy()

	p, ok := h.Parent("code-generation")
	assert.True(t, ok)
	assert.Equal(t, "text-generation", p)

	assert.Equal(t, []string{"code-generation", "text-generation"}, h.Ancestors("debugging"))
	assert.Contains(t, h.Descendants("text-generation"), "refactoring")
	assert.Contains(t, h.Children("code-generation"), "code-review")
	assert.Contains(t, h.Known(), "web-search")

	_, ok = h.Parent("text-generation")
	assert.False(t, ok)
}

func TestHierarchyWeights(t *testing.T) {
	h := NewHierarchy(nil, map[string]float64{"vision": 1.5, "broken": -2})
	assert.Equal(t, 1.5, h.Weight("vision"))
	assert.Equal(t, 0.0, h.Weight("broken"))
	assert.Equal(t, DefaultWeight, h.Weight("anything"))
}

func TestHierarchySatisfies(t *testing.T) {
	h := DefaultHierarchy()

	tests := []struct {
		name      string
		held      []string
		requested string
		want      bool
	}{
		{"direct", []string{"summarization"}, "summarization", true},
		{"held ancestor", []string{"text-generation"}, "code-generation", true},
		{"held grand-ancestor", []string{"text-generation"}, "debugging", true},
		{"held descendant", []string{"debugging"}, "text-generation", true},
		{"sibling", []string{"translation"}, "summarization", false},
		{"unrelated", []string{"web-search"}, "code-generation", false},
		{"unknown", []string{"text-generation"}, "teleportation", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Satisfies(set(tt.held...), tt.requested))
		})
	}
}

func TestNewHierarchyIgnoresCycles(t *testing.T) {
	h := NewHierarchy(map[string][]string{
		"a": {"b"},
		"b": {"a", "c"},
	}, nil)

	assert.Equal(t, []string{"a"}, h.Ancestors("b"))
	assert.Equal(t, []string{"b", "a"}, h.Ancestors("c"))
	assert.Empty(t, h.Ancestors("a"))
}
