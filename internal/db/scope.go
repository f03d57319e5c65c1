package db

import "fmt"

// Scope selects which of an owner's rows a query may touch. It is the only
// authorization mechanism in the store: every read and mutation predicate
// starts from a scope condition.
type Scope int

const (
	// ScopeStandard hides soft-deleted and archived rows. Used by every
	// read and mutation except unarchive.
	ScopeStandard Scope = iota
	// ScopeManage hides only soft-deleted rows, so archived rows can still
	// be looked up (unarchive, archived-filtered listings).
	ScopeManage
)

// Condition returns the SQL predicate for this scope. The owner username is
// bound as placeholder $ownerArg; callers append it to their argument list
// at that position.
func (s Scope) Condition(ownerArg int) string {
	cond := fmt.Sprintf("owner = $%d AND is_deleted = false", ownerArg)
	if s == ScopeStandard {
		cond += " AND is_archived = false"
	}
	return cond
}

func (s Scope) String() string {
	switch s {
	case ScopeStandard:
		return "standard"
	case ScopeManage:
		return "manage"
	default:
		return "unknown"
	}
}
