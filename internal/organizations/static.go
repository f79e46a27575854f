package organizations

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rosterleague/backend/internal/models"
)

// rosterNamespace seeds deterministic organization ids for static rosters.
var rosterNamespace = uuid.MustParse("5b0c2f7e-7d1a-4c8e-9a51-3f4e2d6b8c10")

// Static is an in-memory roster for the sqlite and memory store drivers.
type Static struct {
	orgs []models.Organization
}

// NewStatic builds a roster from organization names. Blank and duplicate names are skipped.
func NewStatic(names []string) *Static {
	now := time.Now().UTC()
	seen := make(map[string]bool, len(names))
	s := &Static{}
	for _, name := range names {
		name = strings.TrimSpace(name)
		slug := models.Slugify(name)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		s.orgs = append(s.orgs, models.Organization{
			ID:        uuid.NewSHA1(rosterNamespace, []byte(slug)),
			Name:      name,
			Slug:      slug,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	sort.Slice(s.orgs, func(i, j int) bool { return s.orgs[i].Name < s.orgs[j].Name })
	return s
}

type rosterFile struct {
	Organizations []string `yaml:"organizations"`
}

// LoadStatic reads a YAML roster file of the form `organizations: [..]`.
func LoadStatic(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var f rosterFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	return NewStatic(f.Organizations), nil
}

// Names returns the roster's organization names.
func (s *Static) Names() []string {
	names := make([]string, len(s.orgs))
	for i, o := range s.orgs {
		names[i] = o.Name
	}
	return names
}

// ListOrganizations returns a copy of the roster.
func (s *Static) ListOrganizations(context.Context) ([]models.Organization, error) {
	return append([]models.Organization(nil), s.orgs...), nil
}

// GetOrganization returns the organization matching name, or nil.
func (s *Static) GetOrganization(_ context.Context, name string) (*models.Organization, error) {
	for _, o := range s.orgs {
		if o.Matches(name) {
			return &o, nil
		}
	}
	return nil, nil
}
