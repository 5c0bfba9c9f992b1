// Package orgconfig loads the organisation settings record: the borrowing
// limit, theme colours, contact details and library rules.
package orgconfig

import (
	"bibliopanel/internal/docstore"
)

const (
	// Collection holds one settings document per organisation plus the
	// shared OrgSettings document.
	Collection = "Configuration"
	GlobalDoc  = "OrgSettings"

	DefaultMaxLoans = 3
)

type Theme struct {
	Primary   string `json:"Primary"`
	Secondary string `json:"Secondary"`
}

type Contact struct {
	Address   string `json:"Address"`
	Email     string `json:"Email"`
	Phone     string `json:"Phone"`
	WhatsApp  string `json:"WhatsApp"`
	Website   string `json:"Website"`
	Facebook  string `json:"Facebook"`
	Instagram string `json:"Instagram"`
}

// Settings mirrors the Configuration documents; field names keep the stored casing.
type Settings struct {
	Name                     string            `json:"Name"`
	Logo                     string            `json:"Logo"`
	MaximumSimultaneousLoans int               `json:"MaximumSimultaneousLoans"`
	Theme                    Theme             `json:"Theme"`
	Contact                  Contact           `json:"Contact"`
	OpeningHours             map[string]string `json:"OpeningHours"`
	LateReturnPenalties      []string          `json:"LateReturnPenalties"`
	SpecificBorrowingRules   []string          `json:"SpecificBorrowingRules"`
}

// Defaults is used for every field the stored documents leave out.
func Defaults() Settings {
	return Settings{
		Name:                     "BiblioENSPY",
		MaximumSimultaneousLoans: DefaultMaxLoans,
		Theme: Theme{
			Primary:   "#3B82F6",
			Secondary: "#64748B",
		},
		OpeningHours: map[string]string{
			"monday":    "08:00-18:00",
			"tuesday":   "08:00-18:00",
			"wednesday": "08:00-18:00",
			"thursday":  "08:00-18:00",
			"friday":    "08:00-18:00",
			"saturday":  "09:00-13:00",
			"sunday":    "closed",
		},
		LateReturnPenalties:    []string{},
		SpecificBorrowingRules: []string{},
	}
}

func overlay(dst *string, data map[string]any, key string) {
	if v := docstore.String(data, key); v != "" {
		*dst = v
	}
}

func stringList(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// FromDocument merges a stored document over the defaults. Nested records
// merge field by field; arrays that are missing or not arrays keep the default.
func FromDocument(data map[string]any) Settings {
	s := Defaults()
	overlay(&s.Name, data, "Name")
	overlay(&s.Logo, data, "Logo")
	if n, ok := docstore.Int(data, "MaximumSimultaneousLoans"); ok && n > 0 {
		s.MaximumSimultaneousLoans = n
	}

	theme := docstore.Map(data, "Theme")
	overlay(&s.Theme.Primary, theme, "Primary")
	overlay(&s.Theme.Secondary, theme, "Secondary")

	contact := docstore.Map(data, "Contact")
	overlay(&s.Contact.Address, contact, "Address")
	overlay(&s.Contact.Email, contact, "Email")
	overlay(&s.Contact.Phone, contact, "Phone")
	overlay(&s.Contact.WhatsApp, contact, "WhatsApp")
	overlay(&s.Contact.Website, contact, "Website")
	overlay(&s.Contact.Facebook, contact, "Facebook")
	overlay(&s.Contact.Instagram, contact, "Instagram")

	for day, v := range docstore.Map(data, "OpeningHours") {
		if str, ok := v.(string); ok {
			s.OpeningHours[day] = str
		}
	}
	if rules, ok := stringList(data["LateReturnPenalties"]); ok {
		s.LateReturnPenalties = rules
	}
	if rules, ok := stringList(data["SpecificBorrowingRules"]); ok {
		s.SpecificBorrowingRules = rules
	}
	return s
}

// Document converts settings back to the stored layout.
func (s Settings) Document() map[string]any {
	hours := make(map[string]any, len(s.OpeningHours))
	for day, v := range s.OpeningHours {
		hours[day] = v
	}
	return map[string]any{
		"Name":                     s.Name,
		"Logo":                     s.Logo,
		"MaximumSimultaneousLoans": s.MaximumSimultaneousLoans,
		"Theme": map[string]any{
			"Primary":   s.Theme.Primary,
			"Secondary": s.Theme.Secondary,
		},
		"Contact": map[string]any{
			"Address":   s.Contact.Address,
			"Email":     s.Contact.Email,
			"Phone":     s.Contact.Phone,
			"WhatsApp":  s.Contact.WhatsApp,
			"Website":   s.Contact.Website,
			"Facebook":  s.Contact.Facebook,
			"Instagram": s.Contact.Instagram,
		},
		"OpeningHours":           hours,
		"LateReturnPenalties":    toAny(s.LateReturnPenalties),
		"SpecificBorrowingRules": toAny(s.SpecificBorrowingRules),
	}
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
