// Package theme derives the ten-step colour palettes the admin UI is styled
// with and keeps the process-wide current theme.
package theme

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
)

// Shades lists the palette keys in ascending order.
var Shades = []int{50, 100, 200, 300, 400, 500, 600, 700, 800, 900}

// Palette maps a shade to a "#rrggbb" colour.
type Palette map[int]string

var (
	white = colorful.Color{R: 1, G: 1, B: 1}
	black = colorful.Color{R: 0, G: 0, B: 0}
)

// Blend amounts per shade: toward white below 500, toward black above.
var (
	lighten = map[int]float64{50: 0.40, 100: 0.30, 200: 0.20, 300: 0.10, 400: 0.05}
	darken  = map[int]float64{600: 0.10, 700: 0.20, 800: 0.30, 900: 0.40}
)

// fallback is the slate scale used when the base colour cannot be parsed.
var fallback = Palette{
	50:  "#f8fafc",
	100: "#f1f5f9",
	200: "#e2e8f0",
	300: "#cbd5e1",
	400: "#94a3b8",
	600: "#475569",
	700: "#334155",
	800: "#1e293b",
	900: "#0f172a",
}

// Parse accepts "#rgb" and "#rrggbb", with or without the leading '#'.
func Parse(s string) (colorful.Color, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		s = "#" + s
	}
	if len(s) != 4 && len(s) != 7 {
		return colorful.Color{}, fmt.Errorf("colour %q: want #rgb or #rrggbb", s)
	}
	return colorful.Hex(s)
}

// GenerateShades builds the palette for base. Shade 500 is base exactly as
// given. An unparseable base yields the slate fallback around it; it never
// fails.
func GenerateShades(base string) Palette {
	c, err := Parse(base)
	if err != nil {
		p := make(Palette, len(Shades))
		for shade, hex := range fallback {
			p[shade] = hex
		}
		p[500] = base
		return p
	}

	p := Palette{500: base}
	for shade, amount := range lighten {
		p[shade] = c.BlendRgb(white, amount).Clamped().Hex()
	}
	for shade, amount := range darken {
		p[shade] = c.BlendRgb(black, amount).Clamped().Hex()
	}
	return p
}

// Keys returns the palette's shades in ascending order.
func (p Palette) Keys() []int {
	keys := make([]int, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
