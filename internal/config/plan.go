package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan is wrapped by every plan validation error.
var ErrInvalidPlan = errors.New("invalid plan")

// Action kinds understood by plans.
const (
	KindNull  = "null"  // Does nothing, groups dependencies
	KindSleep = "sleep" // Waits for duration
	KindTouch = "touch" // args: [file]
	KindMkdir = "mkdir" // args: [dir]
	KindRm    = "rm"    // args: [file]
	KindCp    = "cp"    // args: [src, dst]
	KindExec  = "exec"  // args: [program, arg...]
)

// argCount is the accepted number of args per kind; -1 means at least one.
var argCount = map[string]int{
	KindNull:  0,
	KindSleep: 0,
	KindTouch: 1,
	KindMkdir: 1,
	KindRm:    1,
	KindCp:    2,
	KindExec:  -1,
}

// Plan describes an action graph in a file.
type Plan struct {
	// Root is the ID of the action to execute. Left empty, it is inferred as
	// the only action nothing depends on; when there are several such
	// actions, Root stays empty and all of them are executed.
	Root    string       `json:"root,omitempty" yaml:"root,omitempty"`
	Actions []ActionSpec `json:"actions" yaml:"actions"`
}

// ActionSpec is one action of a plan.
type ActionSpec struct {
	ID        string   `json:"id" yaml:"id"`
	Label     string   `json:"label,omitempty" yaml:"label,omitempty"` // Defaults to the kind's label
	Kind      string   `json:"kind" yaml:"kind"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`
	Duration  Duration `json:"duration,omitempty" yaml:"duration,omitempty"` // For sleep
	Timeout   Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry     int      `json:"retry,omitempty" yaml:"retry,omitempty"` // Total attempts; 0 or 1 means no retry
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// LoadPlan reads a plan file. The format follows the extension: .json, .yaml,
// .yml or .hcl. The plan is validated before it is returned.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}

	var plan *Plan
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		plan, err = parseJSONPlan(data)
	case ".yaml", ".yml":
		plan, err = parseYAMLPlan(data)
	case ".hcl":
		plan, err = parseHCLPlan(data, path)
	default:
		return nil, fmt.Errorf("%w: unsupported plan format %q", ErrInvalidPlan, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

func parseJSONPlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func parseYAMLPlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// hclPlan is the HCL shape of a plan: action blocks labeled with kind and ID.
//
//	root = "report"
//	action "mkdir" "out" {
//	  args = ["out"]
//	}
type hclPlan struct {
	Root    string      `hcl:"root,optional"`
	Actions []hclAction `hcl:"action,block"`
}

type hclAction struct {
	Kind      string   `hcl:"kind,label"`
	ID        string   `hcl:"id,label"`
	Label     string   `hcl:"label,optional"`
	Args      []string `hcl:"args,optional"`
	Duration  string   `hcl:"duration,optional"`
	Timeout   string   `hcl:"timeout,optional"`
	Retry     int      `hcl:"retry,optional"`
	DependsOn []string `hcl:"depends_on,optional"`
}

func parseHCLPlan(data []byte, filename string) (*Plan, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, errors.New(diags.Error())
	}

	var raw hclPlan
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, errors.New(diags.Error())
	}

	plan := &Plan{Root: raw.Root}
	for _, a := range raw.Actions {
		spec := ActionSpec{
			ID:        a.ID,
			Label:     a.Label,
			Kind:      a.Kind,
			Args:      a.Args,
			Retry:     a.Retry,
			DependsOn: a.DependsOn,
		}
		if err := spec.Duration.parse(a.Duration); err != nil {
			return nil, fmt.Errorf("action %q: duration: %w", a.ID, err)
		}
		if err := spec.Timeout.parse(a.Timeout); err != nil {
			return nil, fmt.Errorf("action %q: timeout: %w", a.ID, err)
		}
		plan.Actions = append(plan.Actions, spec)
	}
	return plan, nil
}

// Validate checks that IDs are unique, kinds and their arguments are valid,
// dependencies exist and the root is declared or can be inferred. It fills in
// Root when exactly one action has no dependents. Cycles are reported when
// the plan is built into a graph.
func (p *Plan) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(p.Actions) == 0 {
		addf("no actions")
	}

	ids := make(map[string]bool, len(p.Actions))
	for i, a := range p.Actions {
		switch {
		case a.ID == "":
			addf("action %d: missing id", i)
		case ids[a.ID]:
			addf("duplicate action id %q", a.ID)
		}
		ids[a.ID] = true

		want, known := argCount[a.Kind]
		switch {
		case !known:
			addf("action %q: unknown kind %q", a.ID, a.Kind)
		case want == -1 && len(a.Args) == 0:
			addf("action %q: %s needs at least one argument", a.ID, a.Kind)
		case want >= 0 && len(a.Args) != want:
			addf("action %q: %s takes %d arguments, got %d", a.ID, a.Kind, want, len(a.Args))
		}
		if a.Kind == KindSleep && a.Duration <= 0 {
			addf("action %q: sleep needs a positive duration", a.ID)
		}
		if a.Timeout < 0 {
			addf("action %q: negative timeout", a.ID)
		}
		if a.Retry < 0 {
			addf("action %q: negative retry", a.ID)
		}
	}

	for _, a := range p.Actions {
		for _, dep := range a.DependsOn {
			if !ids[dep] {
				addf("action %q: unknown dependency %q", a.ID, dep)
			}
		}
	}

	if p.Root != "" {
		if !ids[p.Root] {
			addf("unknown root %q", p.Root)
		}
	} else if len(p.Actions) > 0 {
		switch sinks := p.Sinks(); len(sinks) {
		case 0:
			addf("no root: every action is a dependency of another")
		case 1:
			p.Root = sinks[0]
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(problems, "; "))
	}
	return nil
}

// Sinks returns the IDs of the actions no other action depends on, in
// declaration order.
func (p *Plan) Sinks() []string {
	depended := make(map[string]bool)
	for _, a := range p.Actions {
		for _, dep := range a.DependsOn {
			depended[dep] = true
		}
	}

	var sinks []string
	for _, a := range p.Actions {
		if !depended[a.ID] {
			sinks = append(sinks, a.ID)
		}
	}
	return sinks
}

// Lookup returns the action with the given ID.
func (p *Plan) Lookup(id string) (ActionSpec, bool) {
	for _, a := range p.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return ActionSpec{}, false
}
