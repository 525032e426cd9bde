package state

import (
	"fmt"
	"sort"
	"strings"
)

// LocalDBScheme is the reserved namespace for the direct, never-ambiguous
// pointer form keyed on a record's own storage ID (spec.md §3.3).
const LocalDBScheme = "local_db"

// Pointers returns every "{ns}://{id}/{type}" pointer string this record's
// GUIDs produce, sorted for deterministic logging and diffing.
func (s *State) Pointers() []string {
	if len(s.GUIDs) == 0 {
		return nil
	}

	out := make([]string, 0, len(s.GUIDs))
	for ns, id := range s.GUIDs {
		out = append(out, fmt.Sprintf("%s://%s/%s", ns, id, s.Type))
	}
	sort.Strings(out)
	return out
}

// LocalPointer returns the reserved direct-form pointer for a persisted
// record. It's only valid once s.ID has been assigned by storage.
func (s *State) LocalPointer() (string, bool) {
	if s.ID == nil {
		return "", false
	}
	return fmt.Sprintf("%s://%d", LocalDBScheme, *s.ID), true
}

// RelativePointer returns the composite key used to find an episode whose
// own GUIDs are unknown but whose parent show and season/episode numbers
// are (spec.md §3.3, §4.2's rptr map).
func (s *State) RelativePointer() (string, bool) {
	if !s.HasRelativeGUID() {
		return "", false
	}

	parentKeys := make([]string, 0, len(s.Parent))
	for ns := range s.Parent {
		parentKeys = append(parentKeys, ns)
	}
	sort.Strings(parentKeys)

	var b strings.Builder
	for i, ns := range parentKeys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s://%s", ns, s.Parent[ns])
	}
	fmt.Fprintf(&b, "/s%02de%02d", *s.Season, *s.Episode)

	return b.String(), true
}
