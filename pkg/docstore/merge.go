package docstore

import (
	"fmt"
	"sort"
	"strings"
)

// ValidateUpdates rejects empty paths and updates whose paths overlap, since
// the store's update mask cannot express both a field and its descendant.
func ValidateUpdates(updates []Update) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: no updates", ErrInvalidUpdate)
	}
	for i, u := range updates {
		if !u.Path.Valid() {
			return fmt.Errorf("%w: empty path segment in update %d", ErrInvalidUpdate, i)
		}
		for j := 0; j < i; j++ {
			other := updates[j].Path
			if u.Path.HasPrefix(other) || other.HasPrefix(u.Path) {
				return fmt.Errorf("%w: %s overlaps %s", ErrInvalidUpdate, u.Path, other)
			}
		}
	}
	return nil
}

// ApplyUpdates merges updates into a copy of base and returns it. Missing
// intermediate maps are created and non-map intermediates are replaced.
func ApplyUpdates(base Map, updates []Update) Map {
	out := base.Clone()
	if out == nil {
		out = Map{}
	}
	for _, u := range updates {
		setPath(out, u.Path, u.Value)
	}
	return out
}

func setPath(m Map, path FieldPath, v Value) {
	if v == nil {
		v = Null{}
	}
	node := m
	for _, seg := range path[:len(path)-1] {
		next, ok := node[seg].(Map)
		if !ok {
			next = Map{}
			node[seg] = next
		}
		node = next
	}
	node[path[len(path)-1]] = Clone(v)
}

// BuildPatch splits updates into the field mask and the nested body the store
// expects for a merge-patch request. The mask is sorted for stable requests.
func BuildPatch(updates []Update) (mask []string, body Map) {
	body = ApplyUpdates(nil, updates)
	mask = make([]string, len(updates))
	for i, u := range updates {
		mask[i] = u.Path.String()
	}
	sort.Strings(mask)
	return mask, body
}

// DescribeUpdates renders update paths for log fields.
func DescribeUpdates(updates []Update) string {
	paths := make([]string, len(updates))
	for i, u := range updates {
		paths[i] = u.Path.String()
	}
	return strings.Join(paths, ",")
}
