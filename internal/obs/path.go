package obs

import (
	"strconv"
	"strings"
)

// collections whose immediate child segment is a numeric entity id.
var idCollections = map[string]struct{}{
	"plants":    {},
	"equipment": {},
	"documents": {},
	"actors":    {},
}

// CanonicalPath collapses entity ids to keep metric label cardinality bounded:
// /v1/equipment/42/documents becomes /v1/equipment/:id/documents.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i := 1; i < len(segments); i++ {
		if _, ok := idCollections[segments[i-1]]; !ok {
			continue
		}
		if _, err := strconv.ParseUint(segments[i], 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
