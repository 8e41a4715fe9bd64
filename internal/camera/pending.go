package camera

// PendingResultTable holds at most one outstanding reply callback per
// OperationKind. It is confined to the coordinator goroutine.
type PendingResultTable struct {
	entries map[OperationKind]func(Result)
}

// NewPendingResultTable returns an empty table.
func NewPendingResultTable() *PendingResultTable {
	return &PendingResultTable{entries: make(map[OperationKind]func(Result))}
}

// TryBegin stores cb for kind. It returns false, leaving the table untouched,
// when kind already has an entry.
func (t *PendingResultTable) TryBegin(kind OperationKind, cb func(Result)) bool {
	if _, exists := t.entries[kind]; exists {
		return false
	}
	t.entries[kind] = cb
	return true
}

// Resolve removes the entry for kind and invokes it with r. It reports whether
// an entry existed; resolving an absent kind does nothing.
func (t *PendingResultTable) Resolve(kind OperationKind, r Result) bool {
	cb, ok := t.entries[kind]
	if !ok {
		return false
	}
	// Remove before invoking so the callback may begin a new request of the
	// same kind.
	delete(t.entries, kind)
	if cb != nil {
		cb(r)
	}
	return true
}

// Has reports whether kind has an outstanding entry.
func (t *PendingResultTable) Has(kind OperationKind) bool {
	_, ok := t.entries[kind]
	return ok
}

// Len returns the number of outstanding entries.
func (t *PendingResultTable) Len() int {
	return len(t.entries)
}

// Kinds returns the outstanding kinds in declaration order.
func (t *PendingResultTable) Kinds() []OperationKind {
	kinds := make([]OperationKind, 0, len(t.entries))
	for _, k := range AllOperationKinds {
		if _, ok := t.entries[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Drain resolves every outstanding entry, in declaration order, with the
// result returned by fn for that kind.
func (t *PendingResultTable) Drain(fn func(OperationKind) Result) int {
	kinds := t.Kinds()
	for _, k := range kinds {
		t.Resolve(k, fn(k))
	}
	return len(kinds)
}
