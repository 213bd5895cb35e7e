package devbackend

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/errors"
)

// DefaultSkills seeds a new catalog
var DefaultSkills = []api.Skill{
	{Name: "Go", Category: "Development"},
	{Name: "TypeScript", Category: "Development"},
	{Name: "React", Category: "Development"},
	{Name: "PostgreSQL", Category: "Development"},
	{Name: "UI Design", Category: "Design"},
	{Name: "Illustration", Category: "Design"},
	{Name: "Copywriting", Category: "Writing"},
	{Name: "Technical Writing", Category: "Writing"},
	{Name: "SEO", Category: "Marketing"},
	{Name: "Data Analysis", Category: "Data"},
}

// SkillCatalog is the shared list of skills freelancers pick from
type SkillCatalog struct {
	mu     sync.RWMutex
	skills map[string]api.Skill
}

// NewSkillCatalog creates a catalog holding seed. Seeds without an id get one.
func NewSkillCatalog(seed []api.Skill) *SkillCatalog {
	c := &SkillCatalog{skills: make(map[string]api.Skill)}
	for _, s := range seed {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		c.skills[s.ID] = s
	}
	return c
}

// List returns the catalog sorted by category then name
func (c *SkillCatalog) List(ctx context.Context) []api.Skill {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]api.Skill, 0, len(c.skills))
	for _, s := range c.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Add registers a user-suggested skill. A name already in the catalog
// (ignoring case) returns the existing id.
func (c *SkillCatalog) Add(ctx context.Context, name string) (api.Skill, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return api.Skill{}, errors.MissingRequired("name", "Skill name")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.skills {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	s := api.Skill{ID: uuid.NewString(), Name: name, Category: "Other"}
	c.skills[s.ID] = s
	return s, nil
}
