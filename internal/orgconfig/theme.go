package orgconfig

import (
	"context"

	"bibliopanel/internal/logger"
	"bibliopanel/internal/theme"
)

// ThemeBinding keeps a theme.Context in step with the stored settings.
type ThemeBinding struct {
	settings *Service
	theme    *theme.Context
}

func BindTheme(s *Service, tc *theme.Context) *ThemeBinding {
	return &ThemeBinding{settings: s, theme: tc}
}

// Sync applies the stored colours to the theme context.
func (b *ThemeBinding) Sync(ctx context.Context) theme.Theme {
	st := b.settings.Settings(ctx)
	t := b.theme.Set(st.Theme.Primary, st.Theme.Secondary)
	logger.Debug("theme applied", "primary", t.Primary, "secondary", t.Secondary)
	return t
}

// Refresh reloads the settings and re-applies the theme.
func (b *ThemeBinding) Refresh(ctx context.Context) error {
	if err := b.settings.Refresh(ctx); err != nil {
		return err
	}
	b.Sync(ctx)
	return nil
}

func (b *ThemeBinding) Settings() *Service   { return b.settings }
func (b *ThemeBinding) Theme() *theme.Context { return b.theme }
