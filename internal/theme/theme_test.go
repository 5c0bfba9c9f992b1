package theme

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGenerateShadesKeys(t *testing.T) {
	p := GenerateShades("#3B82F6")

	assert.Equal(t, Shades, p.Keys())
	assert.Equal(t, "#3B82F6", p[500])
}

func TestGenerateShadesLinearBlend(t *testing.T) {
	p := GenerateShades("#3B82F6")

	assert.Equal(t, "#89b4fa", p[50])
	assert.Equal(t, "#234e94", p[900])
}

func TestGenerateShadesFallback(t *testing.T) {
	for _, in := range []string{"not-a-colour", "", "#12", "#zzzzzz"} {
		p := GenerateShades(in)
		assert.Equal(t, Shades, p.Keys(), in)
		assert.Equal(t, in, p[500])
		assert.Equal(t, "#f8fafc", p[50])
		assert.Equal(t, "#0f172a", p[900])
	}
}

func TestParseShortForm(t *testing.T) {
	c, err := Parse("fff")
	require.NoError(t, err)
	assert.Equal(t, "#ffffff", c.Hex())
}

func TestShadesGetLighterThenDarker(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hex := rapid.StringMatching(`#[0-9a-f]{6}`).Draw(t, "hex")
		p := GenerateShades(hex)

		prev := 2.0
		for _, shade := range Shades {
			c, err := Parse(p[shade])
			if err != nil {
				t.Fatalf("shade %d: %v", shade, err)
			}
			_, _, l := c.Hsl()
			if l > prev+1e-2 {
				t.Fatalf("shade %d of %s is lighter than the previous one", shade, hex)
			}
			prev = l
		}
	})
}

func TestContextSetResetSubscribe(t *testing.T) {
	ctx := NewContext()
	assert.Equal(t, DefaultPrimary, ctx.Current().Primary)

	var calls atomic.Int32
	var last atomic.Value
	cancel := ctx.Subscribe(func(th Theme) {
		calls.Add(1)
		last.Store(th.Primary)
	})

	ctx.Set("#D2691E", "")
	assert.Equal(t, "#D2691E", ctx.Current().Primary)
	assert.Equal(t, DefaultSecondary, ctx.Current().Secondary)
	assert.Equal(t, "#D2691E", last.Load())

	ctx.Reset()
	assert.Equal(t, DefaultPrimary, last.Load())

	cancel()
	ctx.Set("#000000", "#ffffff")
	assert.Equal(t, int32(2), calls.Load())
}

func TestCSSVariables(t *testing.T) {
	css := NewContext().Current().CSSVariables()

	assert.True(t, strings.HasPrefix(css, ":root {"))
	assert.Contains(t, css, "--color-primary: #3B82F6;")
	assert.Contains(t, css, "--color-primary-500: #3B82F6;")
	assert.Contains(t, css, "--color-secondary-900: ")
	assert.Equal(t, 22, strings.Count(css, "--color-"))
}
