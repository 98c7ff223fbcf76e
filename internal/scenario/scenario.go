// Package scenario loads YAML event scripts and drives them through a
// scheduler, checking expectations after each step.
package scenario

import (
	"fmt"
	"os"
	"strings"

	"github.com/me/smpsched/internal/config"
	"github.com/me/smpsched/pkg/model"
	"gopkg.in/yaml.v3"
)

// Op names a scenario step.
type Op string

const (
	OpCreate      Op = "create"
	OpStart       Op = "start"
	OpTick        Op = "tick"
	OpSetPriority Op = "set_priority"
	OpDelete      Op = "delete"
	OpBlock       Op = "block"
	OpUnblock     Op = "unblock"
	OpExpect      Op = "expect"
)

// Scenario is one scripted scheduler run.
type Scenario struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description,omitempty"`
	Scheduler   config.SchedulerConfig `yaml:",inline"`
	// Lib is JavaScript loaded before every expectation.
	Lib   []string `yaml:"lib,omitempty"`
	Steps []Step   `yaml:"steps"`
}

// Step is one event or expectation.
type Step struct {
	Op       Op     `yaml:"op"`
	Task     *int   `yaml:"task,omitempty"`
	Priority *int   `yaml:"priority,omitempty"`
	Count    int    `yaml:"count,omitempty"` // create/tick repetitions, default 1
	Name     string `yaml:"name,omitempty"`  // create: task name
	That     string `yaml:"that,omitempty"`  // expect: JavaScript predicate
	// Error, when set, is the error code the step must fail with.
	Error model.ErrorCode `yaml:"error,omitempty"`
	// Every, on an expect step, re-checks the predicate after each later
	// event instead of once.
	Every bool `yaml:"every,omitempty"`
}

// Parse decodes a scenario on top of the default scheduler configuration
// and validates it.
func Parse(data []byte) (*Scenario, error) {
	sc := &Scenario{Scheduler: config.DefaultSchedulerConfig()}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Name == "" {
		sc.Name = strings.TrimSuffix(path[strings.LastIndex(path, "/")+1:], ".yaml")
	}
	return sc, nil
}

// Validate checks the scheduler configuration and that every step carries
// the fields its op needs.
func (sc *Scenario) Validate() error {
	if err := sc.Scheduler.Validate(); err != nil {
		return err
	}
	if len(sc.Steps) == 0 {
		return model.NewValidationError("scenario has no steps")
	}
	var errs []model.FieldError
	for i, st := range sc.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		switch st.Op {
		case OpCreate:
			if st.Priority == nil {
				errs = append(errs, model.FieldError{Field: field + ".priority", Message: "required for create"})
			}
		case OpSetPriority:
			if st.Task == nil || st.Priority == nil {
				errs = append(errs, model.FieldError{Field: field, Message: "set_priority needs task and priority"})
			}
		case OpDelete, OpBlock, OpUnblock:
			if st.Task == nil {
				errs = append(errs, model.FieldError{Field: field + ".task", Message: "required for " + string(st.Op)})
			}
		case OpExpect:
			if strings.TrimSpace(st.That) == "" {
				errs = append(errs, model.FieldError{Field: field + ".that", Message: "required for expect"})
			}
		case OpStart, OpTick:
		default:
			errs = append(errs, model.FieldError{Field: field + ".op", Message: fmt.Sprintf("unknown op %q", st.Op)})
		}
		if st.Count < 0 {
			errs = append(errs, model.FieldError{Field: field + ".count", Message: "must be >= 0"})
		}
	}
	if len(errs) > 0 {
		return model.NewValidationError("invalid scenario", errs...)
	}
	return nil
}

func (st Step) repeat() int {
	if st.Count == 0 {
		return 1
	}
	return st.Count
}
