package domain

import (
	"fmt"
	"strings"

	"post_worker/pkg/apperr"
)

// Category is a named content class parsed from the category document.
type Category struct {
	Name  string
	Goal  string
	Style []string
	Rules []string
}

// Key is the case-insensitive identity of the category.
func (c Category) Key() string {
	return CategoryKey(c.Name)
}

// Describe renders the category metadata for prompts.
func (c Category) Describe() string {
	goal := c.Goal
	if goal == "" {
		goal = "(no specific goal provided)"
	}
	return fmt.Sprintf("TYPE GOAL:\n%s\n\nSTYLE GUIDELINES:\n%s\n\nCONTENT RULES:\n%s",
		goal, bulletList(c.Style), bulletList(c.Rules))
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- (none)"
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

// Catalog is the ordered, immutable list of categories for one run.
// Order equals document order; rotation indexes into it.
type Catalog struct {
	categories []Category
	index      map[string]int
}

// NewCatalog rejects empty catalogs and duplicate names.
func NewCatalog(categories []Category) (*Catalog, error) {
	if len(categories) == 0 {
		return nil, apperr.ConfigError("category catalog is empty")
	}

	c := &Catalog{
		categories: make([]Category, 0, len(categories)),
		index:      make(map[string]int, len(categories)),
	}
	for _, cat := range categories {
		key := cat.Key()
		if key == "" {
			return nil, apperr.ConfigError("category with empty name")
		}
		if _, dup := c.index[key]; dup {
			return nil, apperr.ConfigError(fmt.Sprintf("duplicate category %q", cat.Name))
		}
		c.index[key] = len(c.categories)
		c.categories = append(c.categories, cat)
	}
	return c, nil
}

func (c *Catalog) Len() int { return len(c.categories) }

// At returns the category at position i, wrapping around.
func (c *Catalog) At(i int) Category {
	n := len(c.categories)
	return c.categories[((i%n)+n)%n]
}

// Get looks a category up by name, case-insensitively.
func (c *Catalog) Get(name string) (Category, bool) {
	i, ok := c.index[CategoryKey(name)]
	if !ok {
		return Category{}, false
	}
	return c.categories[i], true
}

// All returns a copy of the categories in document order.
func (c *Catalog) All() []Category {
	return append([]Category(nil), c.categories...)
}

func (c *Catalog) Names() []string {
	names := make([]string, len(c.categories))
	for i, cat := range c.categories {
		names[i] = cat.Name
	}
	return names
}

// Role is the persona used as system prompt for one model call.
type Role struct {
	Role      string
	Goal      string
	Backstory string
}

// SystemPrompt renders the role, falling back to def for missing fields.
func (r Role) SystemPrompt(def Role) string {
	pick := func(v, d string) string {
		if strings.TrimSpace(v) != "" {
			return v
		}
		return d
	}
	return fmt.Sprintf("You are: %s\nYour goal: %s\nBackground: %s",
		pick(r.Role, def.Role), pick(r.Goal, def.Goal), pick(r.Backstory, def.Backstory))
}
