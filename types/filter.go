package types

// IntRange is an inclusive numeric bound.
type IntRange struct {
	Gte int
	Lte int
}

// Condition is either an exact keyword match or, when Range is set, an
// inclusive numeric range.
type Condition struct {
	Key   string
	Value string
	Range *IntRange
}

func Match(key, value string) Condition {
	return Condition{Key: key, Value: value}
}

func Between(key string, gte, lte int) Condition {
	return Condition{Key: key, Range: &IntRange{Gte: gte, Lte: lte}}
}

// OwnerScope restricts results to one owner, optionally with shared records.
type OwnerScope struct {
	OwnerID       string
	IncludeShared bool
}

// Filter: every Must holds, and at least one Should holds when any exist.
type Filter struct {
	Owner  *OwnerScope
	Must   []Condition
	Should []Condition
}

func (f Filter) IsEmpty() bool {
	return f.Owner == nil && len(f.Must) == 0 && len(f.Should) == 0
}

func (c Condition) Matches(doc Document) bool {
	if c.Range != nil {
		n, ok := doc.Number(c.Key)
		return ok && n >= c.Range.Gte && n <= c.Range.Lte
	}
	v, ok := doc.Keyword(c.Key)
	return ok && v == c.Value
}

func (s OwnerScope) Matches(doc Document) bool {
	if doc.OwnerID == s.OwnerID {
		return true
	}
	return s.IncludeShared && doc.OwnerID == ""
}

// Matches evaluates f against doc in memory.
func (f Filter) Matches(doc Document) bool {
	if f.Owner != nil && !f.Owner.Matches(doc) {
		return false
	}
	for _, c := range f.Must {
		if !c.Matches(doc) {
			return false
		}
	}
	if len(f.Should) == 0 {
		return true
	}
	for _, c := range f.Should {
		if c.Matches(doc) {
			return true
		}
	}
	return false
}
