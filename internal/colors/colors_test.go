package colors

import (
	"testing"

	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	black = roster.Color{}
	white = roster.Color{R: 255, G: 255, B: 255}
)

func TestDistance(t *testing.T) {
	assert.InDelta(t, 255, Distance(black, white), 1e-9)
	assert.Zero(t, Distance(white, white))
	assert.Equal(t, Distance(black, white), Distance(white, black))
}

func TestAssign_DistinctAboveThreshold(t *testing.T) {
	current := map[string]roster.Color{"a": black, "b": black, "c": black, "d": black}
	const threshold = 100

	target := Assign(current, threshold, 1)

	require.Len(t, target, 4)
	assert.Equal(t, black, target["a"], "first identity keeps its color")
	ids := []string{"a", "b", "c", "d"}
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			d := Distance(target[ids[i]], target[ids[j]])
			assert.GreaterOrEqual(t, d, float64(threshold), "%s/%s too close", ids[i], ids[j])
		}
	}
}

func TestAssign_KeepsSatisfactoryColors(t *testing.T) {
	current := map[string]roster.Color{
		"a": {R: 255},
		"b": {G: 255},
		"c": {B: 255},
	}
	target := Assign(current, 80, 1)
	assert.Equal(t, current, target)
	assert.True(t, Applied(target, current))
}

func TestAssign_ZeroSensitivityOnlyNeedsUniqueness(t *testing.T) {
	red := roster.Color{R: 255}
	current := map[string]roster.Color{"a": red, "b": red, "c": {R: 254}}

	target := Assign(current, 0, 1)

	assert.Equal(t, red, target["a"])
	assert.Equal(t, roster.Color{R: 254}, target["c"], "near-identical but unique is fine")
	assert.NotEqual(t, red, target["b"])
	assert.Contains(t, Palette(), target["b"])
}

func TestAssign_FallsBackWhenPaletteExhausted(t *testing.T) {
	current := map[string]roster.Color{}
	for i, c := range Palette() {
		current[string(rune('a'+i))] = c
	}
	current["zz"] = Palette()[0]

	target := Assign(current, 0, 4)
	require.Len(t, target, len(current))
	seen := map[roster.Color]bool{}
	for _, c := range target {
		seen[c] = true
	}
	assert.Len(t, seen, len(current))
}

func TestApplied_DetectsDrift(t *testing.T) {
	target := map[string]roster.Color{"a": white, "b": black}
	assert.True(t, Applied(target, map[string]roster.Color{"a": white, "b": black}))
	assert.False(t, Applied(target, map[string]roster.Color{"a": white, "b": white}))
	assert.False(t, Applied(target, map[string]roster.Color{"a": white}))
}

func TestHex(t *testing.T) {
	assert.Equal(t, "#ff0000", Hex(roster.Color{R: 255}))
}
