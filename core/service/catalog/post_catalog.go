// Package catalog parses the markdown documents that describe post
// categories and model roles.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"post_worker/core/domain"
	"post_worker/pkg/apperr"
)

// sectionHeading matches "## name" but not "###".
var sectionHeading = regexp.MustCompile(`^\s*##\s+(.+?)\s*$`)

type section struct {
	heading string
	lines   []string
}

// splitSections cuts a document at level-2 headings. Text before the first
// heading is dropped.
func splitSections(md string) []section {
	var sections []section
	var cur *section
	for _, line := range strings.Split(strings.ReplaceAll(md, "\r\n", "\n"), "\n") {
		if m := sectionHeading.FindStringSubmatch(line); m != nil {
			sections = append(sections, section{heading: m[1]})
			cur = &sections[len(sections)-1]
			continue
		}
		if cur != nil {
			cur.lines = append(cur.lines, line)
		}
	}
	return sections
}

// splitLabel recognizes "Label: rest" lines, with or without a bullet.
func splitLabel(line string, labels ...string) (label, rest string, ok bool) {
	s := strings.TrimSpace(line)
	s = strings.TrimSpace(strings.TrimLeft(s, "-*"))
	lower := strings.ToLower(s)
	for _, l := range labels {
		if strings.HasPrefix(lower, l+":") {
			return l, strings.TrimSpace(s[len(l)+1:]), true
		}
	}
	return "", "", false
}

func bulletText(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, "-") && !strings.HasPrefix(s, "*") {
		return "", false
	}
	s = strings.TrimSpace(s[1:])
	return s, s != ""
}

// ParseCategories reads one category per "## name" section. Goal, Style and
// Rules are optional and independent of each other.
func ParseCategories(md string) []domain.Category {
	var out []domain.Category
	for _, sec := range splitSections(md) {
		name := strings.TrimSpace(sec.heading)
		if name == "" {
			continue
		}
		cat := domain.Category{Name: name}
		mode := ""
		for _, line := range sec.lines {
			if label, rest, ok := splitLabel(line, "goal", "style", "rules"); ok {
				switch label {
				case "goal":
					if cat.Goal == "" {
						cat.Goal = rest
					}
					mode = ""
				case "style":
					mode = "style"
					if rest != "" {
						cat.Style = append(cat.Style, rest)
					}
				case "rules":
					mode = "rules"
					if rest != "" {
						cat.Rules = append(cat.Rules, rest)
					}
				}
				continue
			}
			item, ok := bulletText(line)
			if !ok {
				continue
			}
			switch mode {
			case "style":
				cat.Style = append(cat.Style, item)
			case "rules":
				cat.Rules = append(cat.Rules, item)
			}
		}
		out = append(out, cat)
	}
	return out
}

// Load reads and parses the category document. A missing file or a document
// without categories is a configuration error.
func Load(path string) (*domain.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("read category document %s", path)).WithError(err)
	}
	cats := ParseCategories(string(data))
	if len(cats) == 0 {
		return nil, apperr.ConfigError(fmt.Sprintf("no categories found in %s", path))
	}
	return domain.NewCatalog(cats)
}

// ReadDocument returns a required markdown document.
func ReadDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperr.ConfigError(fmt.Sprintf("read document %s", path)).WithError(err)
	}
	return string(data), nil
}

// ParseRoles reads "## key" sections with Role, Goal and Backstory fields.
// Goal and Backstory may span several lines.
func ParseRoles(md string) map[string]domain.Role {
	roles := make(map[string]domain.Role)
	for _, sec := range splitSections(md) {
		key := domain.CategoryKey(sec.heading)
		if key == "" {
			continue
		}
		var role domain.Role
		var field *string
		for _, line := range sec.lines {
			if label, rest, ok := splitLabel(line, "role", "goal", "backstory"); ok {
				switch label {
				case "role":
					role.Role, field = rest, nil
				case "goal":
					role.Goal, field = rest, &role.Goal
				case "backstory":
					role.Backstory, field = rest, &role.Backstory
				}
				continue
			}
			if field != nil && strings.TrimSpace(line) != "" {
				*field = strings.TrimSpace(*field + "\n" + strings.TrimSpace(line))
			}
		}
		roles[key] = role
	}
	return roles
}

// LoadRoles returns no roles when the document does not exist.
func LoadRoles(path string) (map[string]domain.Role, error) {
	if strings.TrimSpace(path) == "" {
		return map[string]domain.Role{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]domain.Role{}, nil
	}
	if err != nil {
		return nil, apperr.ConfigError(fmt.Sprintf("read roles document %s", path)).WithError(err)
	}
	return ParseRoles(string(data)), nil
}
