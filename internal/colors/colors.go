// Package colors picks visually distinct colors for color-sharing identities.
package colors

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/DoyleJ11/autohost/internal/roster"
	"github.com/lucasb-eyer/go-colorful"
)

// randomCandidates is how many random colors are tried when the palette
// cannot satisfy the minimum distance.
const randomCandidates = 10

var paletteHex = []string{
	"#FF0000", "#800000", "#FF8000", "#FFFF00", "#808000",
	"#80FF00", "#00FF00", "#008000", "#00FF80", "#00FFFF",
	"#008080", "#0080FF", "#0000FF", "#000080", "#8000FF",
	"#FF00FF", "#800080", "#FF0080", "#FFFFFF", "#808080",
}

var palette = mustParsePalette(paletteHex)

func mustParsePalette(hexes []string) []roster.Color {
	out := make([]roster.Color, len(hexes))
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(fmt.Sprintf("colors: bad palette entry %q: %v", h, err))
		}
		r, g, b := c.RGB255()
		out[i] = roster.Color{R: r, G: g, B: b}
	}
	return out
}

// Palette returns the hue-ordered palette.
func Palette() []roster.Color {
	out := make([]roster.Color, len(palette))
	copy(out, palette)
	return out
}

// Distance is a luma-weighted euclidean RGB distance. Black to white is 255.
func Distance(a, b roster.Color) float64 {
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	return math.Sqrt(0.299*dr*dr + 0.587*dg*dg + 0.114*db*db)
}

func Hex(c roster.Color) string {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}.Hex()
}

// Assign keeps every identity whose current color is distinct enough from the
// identities kept before it (in name order) and recolors the rest. A zero
// sensitivity only requires colors to be unique.
func Assign(current map[string]roster.Color, sensitivity float64, seed int64) map[string]roster.Color {
	ids := make([]string, 0, len(current))
	for id := range current {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	target := make(map[string]roster.Color, len(ids))
	var taken []roster.Color
	var pending []string
	for _, id := range ids {
		c := current[id]
		if satisfies(c, taken, sensitivity) {
			target[id] = c
			taken = append(taken, c)
			continue
		}
		pending = append(pending, id)
	}

	rng := rand.New(rand.NewSource(seed))
	for _, id := range pending {
		c := pick(taken, sensitivity, rng)
		target[id] = c
		taken = append(taken, c)
	}
	return target
}

func satisfies(c roster.Color, taken []roster.Color, sensitivity float64) bool {
	for _, t := range taken {
		if sensitivity <= 0 {
			if t == c {
				return false
			}
			continue
		}
		if Distance(c, t) < sensitivity {
			return false
		}
	}
	return true
}

func minDistance(c roster.Color, taken []roster.Color) float64 {
	best := math.Inf(1)
	for _, t := range taken {
		best = math.Min(best, Distance(c, t))
	}
	return best
}

func pick(taken []roster.Color, sensitivity float64, rng *rand.Rand) roster.Color {
	if sensitivity <= 0 {
		for _, c := range palette {
			if satisfies(c, taken, 0) {
				return c
			}
		}
		return randomColor(rng)
	}

	best, bestDist := palette[0], math.Inf(-1)
	for _, c := range palette {
		if d := minDistance(c, taken); d > bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist >= sensitivity {
		return best
	}
	for i := 0; i < randomCandidates; i++ {
		c := randomColor(rng)
		if d := minDistance(c, taken); d > bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func randomColor(rng *rand.Rand) roster.Color {
	c := colorful.Hsv(rng.Float64()*360, 0.4+0.6*rng.Float64(), 0.4+0.6*rng.Float64()).Clamped()
	r, g, b := c.RGB255()
	return roster.Color{R: r, G: g, B: b}
}

// Applied reports whether every identity already shows its target color.
func Applied(target, current map[string]roster.Color) bool {
	if len(target) != len(current) {
		return false
	}
	for id, want := range target {
		if got, ok := current[id]; !ok || got != want {
			return false
		}
	}
	return true
}
