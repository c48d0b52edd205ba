package ddl

import (
	"sort"

	"github.com/koustreak/driftbox/internal/schema"
)

// dependencyOrder sorts the added tables so that a table comes after every
// other added table it references. Ties are broken lexically; a cycle is
// broken by taking the lexically smallest remaining table.
func dependencyOrder(names []string, target *schema.DatabaseSchema) []string {
	pending := make(map[string]bool, len(names))
	for _, n := range names {
		pending[n] = true
	}

	deps := make(map[string]map[string]bool, len(names))
	for _, n := range names {
		deps[n] = map[string]bool{}
		t, ok := target.Tables[n]
		if !ok {
			continue
		}
		for _, fk := range t.ForeignKeys {
			if fk.ReferenceTable != n && pending[fk.ReferenceTable] {
				deps[n][fk.ReferenceTable] = true
			}
		}
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	out := make([]string, 0, len(names))
	for len(pending) > 0 {
		next := ""
		for _, n := range sorted {
			if pending[n] && len(deps[n]) == 0 {
				next = n
				break
			}
		}
		if next == "" {
			for _, n := range sorted {
				if pending[n] {
					next = n
					break
				}
			}
		}
		delete(pending, next)
		for _, n := range sorted {
			delete(deps[n], next)
		}
		out = append(out, next)
	}
	return out
}
