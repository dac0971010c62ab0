// Package rotation picks the active categories of a run. The choice is a
// pure function of the history length, so no rotation state is stored.
package rotation

import (
	"fmt"
	"strings"

	"post_worker/core/domain"
	"post_worker/pkg/apperr"
)

// Index returns historyCount mod categoryCount, or 0 for an empty catalog.
func Index(historyCount, categoryCount int) int {
	if categoryCount <= 0 || historyCount <= 0 {
		return 0
	}
	return historyCount % categoryCount
}

// Select returns the next n categories starting at the rotation index,
// wrapping around the catalog. n is clamped to [1, catalog length].
func Select(catalog *domain.Catalog, historyCount, n int) []domain.Category {
	size := catalog.Len()
	if n > size {
		n = size
	}
	if n < 1 {
		n = 1
	}
	start := Index(historyCount, size)
	out := make([]domain.Category, n)
	for i := range out {
		out[i] = catalog.At(start + i)
	}
	return out
}

// Override returns the catalog categories named in names, in catalog order.
// Names the catalog does not know are a configuration error.
func Override(catalog *domain.Catalog, names []string) ([]domain.Category, error) {
	wanted := make(map[string]bool, len(names))
	var unknown []string
	for _, name := range names {
		key := domain.CategoryKey(name)
		if key == "" {
			continue
		}
		if _, ok := catalog.Get(key); !ok {
			unknown = append(unknown, name)
			continue
		}
		wanted[key] = true
	}
	if len(unknown) > 0 {
		return nil, apperr.ConfigError(fmt.Sprintf("unknown forced categories: %s", strings.Join(unknown, ", ")))
	}
	if len(wanted) == 0 {
		return nil, apperr.ConfigError("forced category list is empty")
	}

	var out []domain.Category
	for _, c := range catalog.All() {
		if wanted[c.Key()] {
			out = append(out, c)
		}
	}
	return out, nil
}
