// Package capability scores agents against the capabilities a request
// needs, using a parent/child capability hierarchy and importance weights.
package capability

import (
	"sort"
)

// DefaultWeight is the weight of a capability with no explicit weight
const DefaultWeight = 1.0

// Hierarchy is an immutable parent to children relation over capability names
type Hierarchy struct {
	parent   map[string]string
	children map[string][]string
	weights  map[string]float64
	known    []string
}

// NewHierarchy builds a hierarchy from parent to children edges. A child
// listed under more than one parent keeps the first parent in sorted order.
// Negative weights are treated as zero.
func NewHierarchy(edges map[string][]string, weights map[string]float64) *Hierarchy {
	h := &Hierarchy{
		parent:   make(map[string]string),
		children: make(map[string][]string),
		weights:  make(map[string]float64, len(weights)),
	}

	knownSet := make(map[string]struct{})
	parents := make([]string, 0, len(edges))
	for p := range edges {
		parents = append(parents, p)
	}
	sort.Strings(parents)

	for _, p := range parents {
		knownSet[p] = struct{}{}
		for _, c := range edges[p] {
			if c == p {
				continue
			}
			knownSet[c] = struct{}{}
			if _, taken := h.parent[c]; taken {
				continue
			}
			if h.isAncestor(c, p) {
				// would create a cycle
				continue
			}
			h.parent[c] = p
			h.children[p] = append(h.children[p], c)
		}
	}
	for name, w := range weights {
		if w < 0 {
			w = 0
		}
		h.weights[name] = w
		knownSet[name] = struct{}{}
	}

	h.known = make([]string, 0, len(knownSet))
	for name := range knownSet {
		h.known = append(h.known, name)
	}
	sort.Strings(h.known)
	for p := range h.children {
		sort.Strings(h.children[p])
	}
	return h
}

func (h *Hierarchy) isAncestor(candidate, name string) bool {
	for p, ok := h.parent[name]; ok; p, ok = h.parent[p] {
		if p == candidate {
			return true
		}
	}
	return candidate == name
}

// DefaultHierarchy returns the built-in capability tree
func DefaultHierarchy() *Hierarchy {
	return NewHierarchy(
		map[string][]string{
			"text-generation": {"code-generation", "summarization", "translation", "question-answering", "creative-writing"},
			"code-generation": {"code-review", "debugging", "refactoring"},
			"reasoning":       {"mathematical-reasoning", "planning", "data-analysis"},
			"multimodal":      {"image-understanding", "image-generation", "audio-transcription"},
			"tool-use":        {"function-calling", "web-search"},
		},
		map[string]float64{
			"code-generation":        1.3,
			"code-review":            1.2,
			"debugging":              1.2,
			"refactoring":            1.2,
			"reasoning":              1.2,
			"mathematical-reasoning": 1.4,
			"planning":               1.2,
			"data-analysis":          1.2,
			"image-understanding":    1.3,
			"image-generation":       1.5,
			"audio-transcription":    1.3,
			"function-calling":       1.1,
		},
	)
}

// Parent returns the parent of name
func (h *Hierarchy) Parent(name string) (string, bool) {
	p, ok := h.parent[name]
	return p, ok
}

// Children returns the direct children of name
func (h *Hierarchy) Children(name string) []string {
	return append([]string(nil), h.children[name]...)
}

// Ancestors returns name's ancestors, nearest first
func (h *Hierarchy) Ancestors(name string) []string {
	var out []string
	for p, ok := h.parent[name]; ok; p, ok = h.parent[p] {
		out = append(out, p)
	}
	return out
}

// Descendants returns every descendant of name in breadth-first order
func (h *Hierarchy) Descendants(name string) []string {
	var out []string
	queue := append([]string(nil), h.children[name]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, next)
		queue = append(queue, h.children[next]...)
	}
	return out
}

// Weight returns the static importance weight of name
func (h *Hierarchy) Weight(name string) float64 {
	if w, ok := h.weights[name]; ok {
		return w
	}
	return DefaultWeight
}

// Known returns every capability named by the hierarchy, sorted
func (h *Hierarchy) Known() []string {
	return append([]string(nil), h.known...)
}

// Satisfies reports whether the held set covers requested directly, through
// a held ancestor, or through a held descendant
func (h *Hierarchy) Satisfies(held map[string]struct{}, requested string) bool {
	if _, ok := held[requested]; ok {
		return true
	}
	for _, a := range h.Ancestors(requested) {
		if _, ok := held[a]; ok {
			return true
		}
	}
	for _, d := range h.Descendants(requested) {
		if _, ok := held[d]; ok {
			return true
		}
	}
	return false
}
