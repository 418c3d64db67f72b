package harness

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/roach88/galed/internal/engine"
	"github.com/roach88/galed/internal/ir"
)

// execute dispatches a step to the engine.
func (h *Harness) execute(step Step, actor ir.Author) (stepOutcome, error) {
	a := stepArgs(step.Args)
	authority := ir.Authority{Author: actor}

	switch step.Action {
	case ActionCreate:
		id, err := a.str("id")
		if err != nil {
			return stepOutcome{}, err
		}
		domain := h.domain
		if d := a.opt("domain"); d != "" {
			domain = ir.Domain(d)
		}
		_, err = h.engine.Create(id, domain, actor)
		return stepOutcome{err: err}, nil

	case ActionDefine:
		id, path, err := a.target()
		if err != nil {
			return stepOutcome{}, err
		}
		spec, err := a.fieldSpec()
		if err != nil {
			return stepOutcome{}, err
		}
		_, err = h.engine.DefineField(id, path, spec, actor)
		return stepOutcome{err: err}, nil

	case ActionLink, ActionUnlink:
		from, err := a.str("from")
		if err != nil {
			return stepOutcome{}, err
		}
		kind, err := a.str("kind")
		if err != nil {
			return stepOutcome{}, err
		}
		to, err := a.str("to")
		if err != nil {
			return stepOutcome{}, err
		}
		if step.Action == ActionLink {
			err = h.engine.AddEdge(from, ir.EdgeKind(kind), to, actor)
		} else {
			err = h.engine.RemoveEdge(from, ir.EdgeKind(kind), to, actor)
		}
		return stepOutcome{err: err}, nil

	case ActionWrite:
		id, path, err := a.target()
		if err != nil {
			return stepOutcome{}, err
		}
		v, out, err := h.valueFor(ir.Target{Requirement: id, Field: path}, a)
		if err != nil || out.err != nil {
			return out, err
		}
		_, err = h.engine.Write(id, path, v, actor)
		return stepOutcome{err: err}, nil

	case ActionLock:
		id, path, err := a.target()
		if err != nil {
			return stepOutcome{}, err
		}
		state, err := a.str("state")
		if err != nil {
			return stepOutcome{}, err
		}
		err = h.engine.SetLock(id, path, ir.LockState(state), authority)
		return stepOutcome{err: err}, nil

	case ActionPropose:
		id, path, err := a.target()
		if err != nil {
			return stepOutcome{}, err
		}
		target := ir.Target{Requirement: id, Field: path}
		change, out, err := h.changeFor(target, a)
		if err != nil || out.err != nil {
			return out, err
		}
		p, err := h.engine.OpenProposal(target, change, a.opt("rationale"), actor)
		return stepOutcome{proposal: p, err: err}, nil

	case ActionAccept, ActionReject:
		id, err := a.proposal()
		if err != nil {
			return stepOutcome{}, err
		}
		var p *ir.Proposal
		if step.Action == ActionAccept {
			p, err = h.engine.Accept(id, authority, a.opt("note"))
		} else {
			p, err = h.engine.Reject(id, authority, a.opt("note"))
		}
		return stepOutcome{proposal: p, err: err}, nil

	case ActionResubmit:
		id, err := a.proposal()
		if err != nil {
			return stepOutcome{}, err
		}
		old, err := h.engine.Proposal(id)
		if err != nil {
			return stepOutcome{err: err}, nil
		}
		change, out, err := h.changeFor(old.Target, a)
		if err != nil || out.err != nil {
			return out, err
		}
		p, err := h.engine.Resubmit(id, change, a.opt("rationale"), actor)
		return stepOutcome{proposal: p, err: err}, nil

	case ActionRemove:
		id, err := a.str("id")
		if err != nil {
			return stepOutcome{}, err
		}
		force, err := a.flag("force")
		if err != nil {
			return stepOutcome{}, err
		}
		err = h.engine.Remove(id, force, actor)
		return stepOutcome{err: err}, nil

	case ActionImport:
		source, err := a.str("source")
		if err != nil {
			return stepOutcome{}, err
		}
		issue, err := a.str("issue")
		if err != nil {
			return stepOutcome{}, err
		}
		domain := h.domain
		if d := a.opt("domain"); d != "" {
			domain = ir.Domain(d)
		}
		raw, err := a.stringMap("fields")
		if err != nil {
			return stepOutcome{}, err
		}
		_, err = h.engine.ImportStub(source, issue, domain, raw, actor)
		return stepOutcome{err: err}, nil

	case ActionClearReview:
		id, err := a.str("id")
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{err: h.engine.ClearReview(id, actor)}, nil

	case ActionPropagate:
		id, err := a.str("id")
		if err != nil {
			return stepOutcome{}, err
		}
		flagged, err := h.engine.Propagate(id, actor)
		return stepOutcome{flagged: flagged, err: err}, nil
	}
	return stepOutcome{}, fmt.Errorf("%w: unknown action %q", errStep, step.Action)
}

// valueFor parses args["value"] as the kind of the target field. A missing
// field is reported as the engine's NOT_FOUND outcome.
func (h *Harness) valueFor(target ir.Target, a stepArgs) (ir.Value, stepOutcome, error) {
	raw, ok := a["value"]
	if !ok {
		return nil, stepOutcome{}, fmt.Errorf("%w: value is required", errStep)
	}
	f, err := h.engine.Read(target.Requirement, target.Field)
	if err != nil {
		return nil, stepOutcome{err: err}, nil
	}
	v, err := ir.ParseValue(f.Kind(), scalarText(raw))
	if err != nil {
		return nil, stepOutcome{}, fmt.Errorf("%w: value: %v", errStep, err)
	}
	return v, stepOutcome{}, nil
}

// changeFor builds a proposal change from either "value" or "lock".
func (h *Harness) changeFor(target ir.Target, a stepArgs) (ir.Change, stepOutcome, error) {
	_, hasValue := a["value"]
	lock := a.opt("lock")
	switch {
	case hasValue && lock != "":
		return ir.Change{}, stepOutcome{}, fmt.Errorf("%w: value and lock are mutually exclusive", errStep)
	case lock != "":
		return ir.Change{Lock: ir.LockState(lock)}, stepOutcome{}, nil
	case hasValue:
		v, out, err := h.valueFor(target, a)
		return ir.Change{Value: v}, out, err
	}
	return ir.Change{}, stepOutcome{}, fmt.Errorf("%w: value or lock is required", errStep)
}

// stepArgs reads typed arguments out of a decoded YAML map.
type stepArgs map[string]any

func (a stepArgs) str(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", errStep, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", errStep, key)
	}
	return s, nil
}

func (a stepArgs) opt(key string) string {
	if v, ok := a[key]; ok {
		return scalarText(v)
	}
	return ""
}

func (a stepArgs) target() (string, string, error) {
	id, err := a.str("id")
	if err != nil {
		return "", "", err
	}
	path, err := a.str("path")
	if err != nil {
		return "", "", err
	}
	return id, path, nil
}

func (a stepArgs) proposal() (ir.ProposalID, error) {
	switch v := a["proposal"].(type) {
	case int:
		return ir.ProposalID(v), nil
	case int64:
		return ir.ProposalID(v), nil
	case nil:
		return 0, fmt.Errorf("%w: proposal is required", errStep)
	}
	return 0, fmt.Errorf("%w: proposal must be an integer", errStep)
}

func (a stepArgs) flag(key string) (bool, error) {
	v, ok := a[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean", errStep, key)
	}
	return b, nil
}

func (a stepArgs) stringMap(key string) (map[string]string, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a mapping", errStep, key)
	}
	out := make(map[string]string, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out[k] = scalarText(m[k])
	}
	return out, nil
}

func (a stepArgs) strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", errStep, key)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, scalarText(item))
	}
	return out, nil
}

// fieldSpec builds a field definition. Without an explicit kind, the kind
// follows the YAML scalar type; strings with options are enums.
func (a stepArgs) fieldSpec() (engine.FieldSpec, error) {
	raw, ok := a["value"]
	if !ok {
		return engine.FieldSpec{}, fmt.Errorf("%w: value is required", errStep)
	}
	options, err := a.strings("options")
	if err != nil {
		return engine.FieldSpec{}, err
	}

	kind := ir.Kind(a.opt("kind"))
	if kind == "" {
		switch raw.(type) {
		case int, int64, float64:
			kind = ir.KindNumber
		case bool:
			kind = ir.KindBool
		default:
			kind = ir.KindString
			if len(options) > 0 {
				kind = ir.KindEnum
			}
		}
	}
	v, err := ir.ParseValue(kind, scalarText(raw))
	if err != nil {
		return engine.FieldSpec{}, fmt.Errorf("%w: value: %v", errStep, err)
	}
	return engine.FieldSpec{
		Value:   v,
		Lock:    ir.LockState(a.opt("lock")),
		Options: options,
	}, nil
}

// scalarText renders a YAML scalar as text.
func scalarText(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
