package engine

import (
	"github.com/roach88/galed/internal/ir"
	"github.com/roach88/galed/internal/rules"
)

// Read returns a copy of a field. Fails with NotFound if the requirement or
// path is absent.
func (e *Engine) Read(id, path string) (*ir.Field, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.reqs[id]
	if !ok {
		return nil, requirementNotFound(id)
	}
	f, ok := r.Fields[path]
	if !ok {
		return nil, fieldNotFound(id, path)
	}
	return f.Clone(), nil
}

// Write sets the value of an OPEN field directly, bumping its version and
// replacing its provenance. Direct writes to LOCKED_HUMAN or LOCKED_AI
// fields always fail with LockedField, whoever the author; only proposal
// acceptance changes a locked field.
func (e *Engine) Write(id, path string, value ir.Value, author ir.Author) (*ir.Field, error) {
	var out *ir.Field
	err := e.update("write", author, func(t *tx) error {
		if !ir.ValidAuthorKinds[author.Kind] || author.ID == "" {
			return errorf(CodeUnauthorized, "unknown author %s", author).at(id, path)
		}
		target := ir.Target{Requirement: id, Field: path}
		_, f, err := t.field(target)
		if err != nil {
			return err
		}
		if f.Lock.Locked() {
			return errorf(CodeLockedField, "field is %s; open a proposal instead", f.Lock).at(id, path)
		}
		if err := f.Accepts(value); err != nil {
			return errorf(CodeInvalidValue, "%v", err).at(id, path)
		}

		f = t.mutable(id).Fields[path]
		f.Value = value
		f.Version++
		f.Provenance = ir.Provenance{Author: author, At: t.now}
		t.emit(ir.EventFieldWritten, target, 0, map[string]any{
			"value":   value,
			"version": f.Version,
		})

		if t.e.impactOnDirectWrite {
			t.propagate(id)
		}
		out = f.Clone()
		return nil
	})
	return out, err
}

// SetLock changes a field's lock state directly.
//
// Fails with Unauthorized unless the authorizer satisfies the domain's
// lock-transition rule for the field's category. Unlocking a category whose
// rule sets unlock_by_proposal always fails here; it needs an accepted lock
// proposal. Setting the current state is a no-op.
func (e *Engine) SetLock(id, path string, state ir.LockState, authorizer ir.Authority) error {
	return e.update("set_lock", authorizer.Author, func(t *tx) error {
		target := ir.Target{Requirement: id, Field: path}
		r, f, err := t.field(target)
		if err != nil {
			return err
		}
		if !ir.ValidLockStates[state] {
			return errorf(CodeInvalidValue, "invalid lock state %q", state).at(id, path)
		}
		if f.Lock == state {
			return nil
		}
		_, rule := t.e.rules.Lookup(r.Domain, path)
		if err := checkLockTransition(rule, f.Lock, state, authorizer.Kind, false); err != nil {
			return err.at(id, path)
		}
		t.applyLock(target, state, 0)
		return nil
	})
}

// applyLock moves a field to a new lock state. Lock changes are committed
// mutations, so the version is bumped.
func (t *tx) applyLock(target ir.Target, state ir.LockState, proposal ir.ProposalID) {
	f := t.mutable(target.Requirement).Fields[target.Field]
	from := f.Lock
	f.Lock = state
	f.Version++
	t.emit(ir.EventLockChanged, target, proposal, map[string]any{
		"from":    string(from),
		"to":      string(state),
		"version": f.Version,
	})
}

// relaxes reports whether moving from → to loosens the lock: any move to
// OPEN, or LOCKED_HUMAN down to LOCKED_AI.
func relaxes(from, to ir.LockState) bool {
	return to == ir.LockOpen || (from == ir.LockLockedHuman && to == ir.LockLockedAI)
}

// checkLockTransition applies a LockRule to one lock change.
// viaProposal is true when the change comes from an accepted lock proposal.
func checkLockTransition(rule rules.LockRule, from, to ir.LockState, kind ir.AuthorKind, viaProposal bool) *Error {
	if !ir.ValidAuthorKinds[kind] {
		return errorf(CodeUnauthorized, "unknown author kind %q", kind)
	}
	if relaxes(from, to) {
		if rule.UnlockByProposal && !viaProposal {
			return errorf(CodeUnauthorized, "unlocking this field requires an accepted proposal")
		}
		if !rule.Unlock.Permits(kind) {
			return errorf(CodeUnauthorized, "%s authors may not unlock this field (rule: %s)", kind, rule.Unlock)
		}
		return nil
	}
	if to == ir.LockLockedHuman && kind != ir.AuthorHuman {
		return errorf(CodeUnauthorized, "only a human may set LOCKED_HUMAN")
	}
	if !rule.Lock.Permits(kind) {
		return errorf(CodeUnauthorized, "%s authors may not lock this field (rule: %s)", kind, rule.Lock)
	}
	return nil
}

// canResolve reports whether an author kind may resolve proposals on a
// field: the domain rule must permit it, and a LOCKED_HUMAN field is only
// resolved by humans.
func canResolve(rule rules.LockRule, f *ir.Field, kind ir.AuthorKind) bool {
	if !rule.Resolve.Permits(kind) {
		return false
	}
	return f.Lock != ir.LockLockedHuman || kind == ir.AuthorHuman
}
