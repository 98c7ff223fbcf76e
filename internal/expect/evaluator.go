// Package expect evaluates JavaScript predicates (goja) against a scheduler
// snapshot. Scenario files use it to state what must hold after a step.
//
// Two expression forms are accepted:
//   - a bare expression: state(4) == "RUNNING" && core(4) == 1
//   - a code block: ${ var r = ready(2); return r.length == 1 && r[0] == 5; }
//
// The VM exposes these bindings:
//
//	state(id)     task state, or "DELETED" for a task not in the snapshot
//	core(id)      bound core, or -1
//	priority(id)  task priority, or -1 for a task not in the snapshot
//	running(c)    task bound to core c, or -1
//	ready(p)      ready task ids at priority p, front of the ring first
//	cursor(p)     rotation cursor core at priority p, or -1
//	ticks, cores, started, accounting
//	snapshot      the whole snapshot as a plain object
package expect

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/me/smpsched/pkg/model"
)

// Evaluator evaluates expectation expressions.
type Evaluator struct {
	lib []string
}

// NewEvaluator creates an evaluator. lib holds JavaScript run before every
// expression, typically helper functions shared by a scenario.
func NewEvaluator(lib []string) *Evaluator {
	return &Evaluator{lib: lib}
}

func (e *Evaluator) setupVM(snap model.Snapshot) (*goja.Runtime, error) {
	vm := goja.New()

	tasks := make(map[model.TaskID]model.TaskView, len(snap.Tasks))
	for _, t := range snap.Tasks {
		tasks[t.ID] = t
	}
	levels := make(map[int]model.LevelView, len(snap.Levels))
	for _, l := range snap.Levels {
		levels[l.Priority] = l
	}
	accounting := model.NoCore
	for _, c := range snap.Cores {
		if c.Accounting {
			accounting = c.Index
		}
	}

	bindings := map[string]any{
		"state": func(id int) string {
			if t, ok := tasks[model.TaskID(id)]; ok {
				return t.State.String()
			}
			return model.TaskStateDeleted.String()
		},
		"core": func(id int) int {
			if t, ok := tasks[model.TaskID(id)]; ok {
				return t.Core
			}
			return model.NoCore
		},
		"priority": func(id int) int {
			if t, ok := tasks[model.TaskID(id)]; ok {
				return t.Priority
			}
			return -1
		},
		"running": func(c int) int {
			if c < 0 || c >= len(snap.Cores) {
				return int(model.NoTask)
			}
			return int(snap.Cores[c].Task)
		},
		"ready": func(p int) *goja.Object {
			var ids []any
			for _, id := range levels[p].Ready {
				ids = append(ids, int(id))
			}
			return vm.NewArray(ids...)
		},
		"cursor": func(p int) int {
			if l, ok := levels[p]; ok {
				return l.Cursor
			}
			return model.NoCore
		},
		"ticks":      snap.Ticks,
		"cores":      len(snap.Cores),
		"started":    snap.Started,
		"accounting": accounting,
	}
	for name, v := range bindings {
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", name, err)
		}
	}

	plain, err := toPlain(snap)
	if err != nil {
		return nil, err
	}
	if err := vm.Set("snapshot", plain); err != nil {
		return nil, fmt.Errorf("set snapshot: %w", err)
	}

	for i, src := range e.lib {
		if _, err := vm.RunString(src); err != nil {
			return nil, fmt.Errorf("lib[%d]: %w", i, err)
		}
	}
	return vm, nil
}

// toPlain converts the snapshot to maps and slices so scripts see the JSON
// field names.
func toPlain(snap model.Snapshot) (map[string]any, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return out, nil
}

// Evaluate runs expr against snap and returns the exported result.
func (e *Evaluator) Evaluate(expr string, snap model.Snapshot) (any, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}
	vm, err := e.setupVM(snap)
	if err != nil {
		return nil, err
	}

	code := expr
	if strings.HasPrefix(expr, "${") && strings.HasSuffix(expr, "}") {
		body := strings.TrimSpace(expr[2 : len(expr)-1])
		code = fmt.Sprintf("(function() { %s })()", body)
	}
	val, err := vm.RunString(code)
	if err != nil {
		return nil, fmt.Errorf("JavaScript error: %w", err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

// EvaluateBool evaluates an expression that should return a boolean.
func (e *Evaluator) EvaluateBool(expr string, snap model.Snapshot) (bool, error) {
	val, err := e.Evaluate(expr, snap)
	if err != nil {
		return false, err
	}

	switch v := val.(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("expression did not return boolean: %T", val)
	}
}
