package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Organization is one entry of the fixed roster a participant can be affiliated with.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether s names this organization (name or slug, case-insensitive).
func (o Organization) Matches(s string) bool {
	s = strings.TrimSpace(s)
	return strings.EqualFold(o.Name, s) || (o.Slug != "" && strings.EqualFold(o.Slug, s))
}

// Slugify derives a roster slug from an organization name.
func Slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
