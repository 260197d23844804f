package roster

import (
	"iter"
	"strings"
)

// Normalize strips every rune that is not an ASCII letter or digit. It is the
// canonical identity transform: "T.I. 12345" and "TI-12345" collapse to the
// same key, but letters are never removed, so "12345" stays distinct from
// "TI12345".
func Normalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Index answers identity and search queries over a fixed snapshot of the
// collection. It is rebuilt by the repository after every load or mutation.
type Index struct {
	records  []*StudentRecord
	identity map[string]*StudentRecord
}

func NewIndex(records []*StudentRecord) *Index {
	identity := make(map[string]*StudentRecord, len(records))
	for _, record := range records {
		key := record.NormalizedID()
		if _, taken := identity[key]; !taken {
			identity[key] = record
		}
	}
	return &Index{records: records, identity: identity}
}

// FindByIdentity returns the record whose normalized identifier equals the
// normalized input, or nil.
func (ix *Index) FindByIdentity(raw string) *StudentRecord {
	key := Normalize(raw)
	if key == "" {
		return nil
	}
	return ix.identity[key]
}

// HasIdentity reports whether a normalized identifier is already taken.
func (ix *Index) HasIdentity(normalized string) bool {
	_, taken := ix.identity[normalized]
	return taken
}

func (ix *Index) Len() int {
	return len(ix.records)
}

// Query selects records for the admin table. Term matches the upper-cased
// name as a case-insensitive substring, and the stored id as a raw substring
// (not normalized — identity lookup and search deliberately differ here).
// Empty Plan/Status match everything.
type Query struct {
	Term   string
	Plan   string
	Status Status
}

// Filter yields matching records in collection order. The sequence is
// restartable; each range re-walks the snapshot.
func (ix *Index) Filter(q Query) iter.Seq[*StudentRecord] {
	term := strings.TrimSpace(q.Term)
	upperTerm := strings.ToUpper(term)
	return func(yield func(*StudentRecord) bool) {
		for _, record := range ix.records {
			if term != "" &&
				!strings.Contains(record.FullName, upperTerm) &&
				!strings.Contains(record.ID, term) {
				continue
			}
			if q.Plan != "" && record.Plan != q.Plan {
				continue
			}
			if q.Status != "" && record.Status != q.Status {
				continue
			}
			if !yield(record) {
				return
			}
		}
	}
}
