package interaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCollapseToggle checks defaults and that a double toggle is a no-op.
func TestCollapseToggle(t *testing.T) {
	s := New()
	assert.False(t, s.IsCollapsed("R"))

	require.True(t, s.ToggleCollapsed("R"))
	assert.True(t, s.IsCollapsed("R"))
	assert.Equal(t, 1, s.CollapsedCount())

	require.False(t, s.ToggleCollapsed("R"))
	assert.False(t, s.IsCollapsed("R"))
	assert.Equal(t, 0, s.CollapsedCount())

	s.ToggleCollapsed("a")
	s.ToggleCollapsed("b")
	s.ExpandAll()
	assert.Equal(t, 0, s.CollapsedCount())
}

// TestSingleSelection checks that selecting replaces the previous choice.
func TestSingleSelection(t *testing.T) {
	s := New()
	_, ok := s.Selected()
	assert.False(t, ok)

	s.Select("a")
	s.Select("b")
	id, ok := s.Selected()
	require.True(t, ok)
	assert.Equal(t, "b", id)

	s.Deselect()
	_, ok = s.Selected()
	assert.False(t, ok)
}

// TestHoverIsPerFrame checks that hover is cleared by BeginFrame.
func TestHoverIsPerFrame(t *testing.T) {
	s := New()
	s.Hover("x")
	id, ok := s.Hovered()
	require.True(t, ok)
	assert.Equal(t, "x", id)

	s.BeginFrame()
	_, ok = s.Hovered()
	assert.False(t, ok)
}

// TestReset checks that a new load clears all state.
func TestReset(t *testing.T) {
	s := New()
	s.ToggleCollapsed("R")
	s.Select("C1")
	s.Hover("C2")

	s.Reset()
	assert.False(t, s.IsCollapsed("R"))
	_, ok := s.Selected()
	assert.False(t, ok)
	_, ok = s.Hovered()
	assert.False(t, ok)
}
