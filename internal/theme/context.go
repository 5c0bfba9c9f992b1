package theme

import (
	"fmt"
	"strings"
	"sync"
)

const (
	DefaultPrimary   = "#3B82F6"
	DefaultSecondary = "#64748B"
)

// Theme is a snapshot of the active colours and their palettes.
type Theme struct {
	Primary         string  `json:"primary"`
	Secondary       string  `json:"secondary"`
	PrimaryShades   Palette `json:"primaryShades"`
	SecondaryShades Palette `json:"secondaryShades"`
}

func build(primary, secondary string) Theme {
	if strings.TrimSpace(primary) == "" {
		primary = DefaultPrimary
	}
	if strings.TrimSpace(secondary) == "" {
		secondary = DefaultSecondary
	}
	return Theme{
		Primary:         primary,
		Secondary:       secondary,
		PrimaryShades:   GenerateShades(primary),
		SecondaryShades: GenerateShades(secondary),
	}
}

// CSSVariables renders the custom properties the SPA's stylesheet reads,
// e.g. --color-primary and --color-primary-50 through --color-primary-900.
func (t Theme) CSSVariables() string {
	var b strings.Builder
	b.WriteString(":root {\n")
	for _, set := range []struct {
		name    string
		base    string
		palette Palette
	}{
		{"primary", t.Primary, t.PrimaryShades},
		{"secondary", t.Secondary, t.SecondaryShades},
	} {
		fmt.Fprintf(&b, "  --color-%s: %s;\n", set.name, set.base)
		for _, shade := range Shades {
			fmt.Fprintf(&b, "  --color-%s-%d: %s;\n", set.name, shade, set.palette[shade])
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// Context holds the current theme for the process and notifies subscribers
// when it changes. The zero value is not usable; call NewContext.
type Context struct {
	mu      sync.RWMutex
	current Theme
	subs    map[int]func(Theme)
	nextID  int
}

// NewContext starts with the default colours.
func NewContext() *Context {
	return &Context{
		current: build(DefaultPrimary, DefaultSecondary),
		subs:    make(map[int]func(Theme)),
	}
}

// Current returns the active theme.
func (c *Context) Current() Theme {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set replaces the active colours. Blank values fall back to the defaults.
func (c *Context) Set(primary, secondary string) Theme {
	return c.replace(build(primary, secondary))
}

// Reset restores the default colours.
func (c *Context) Reset() Theme {
	return c.replace(build(DefaultPrimary, DefaultSecondary))
}

func (c *Context) replace(t Theme) Theme {
	c.mu.Lock()
	c.current = t
	fns := make([]func(Theme), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
	return t
}

// Subscribe registers fn for future changes. The returned function removes it.
func (c *Context) Subscribe(fn func(Theme)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}
