package playbook

import (
	"sort"

	"github.com/rxtech-lab/argo-playbook/internal/condition"
	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// CompiledPlaybook is a validated playbook with every expression and condition
// tree pre-parsed and every transition list sorted. It is immutable and safe
// to share between concurrent runs; all mutable state lives in RuntimeState.
type CompiledPlaybook struct {
	Source       *types.Playbook
	InitialPhase string
	Phases       map[string]*CompiledPhase
}

// CompiledPhase is one phase with transitions in ascending priority order.
// Ties keep declaration order.
type CompiledPhase struct {
	Name          string
	EvaluateOn    []types.Timeframe
	Transitions   []*CompiledTransition
	Timeout       *types.TimeoutSpec
	Manage        []*CompiledRule
	OnTradeClosed string

	evaluateOn map[types.Timeframe]struct{}
}

// EvaluatesOn reports whether bar closes of tf trigger this phase.
func (p *CompiledPhase) EvaluatesOn(tf types.Timeframe) bool {
	_, ok := p.evaluateOn[tf]

	return ok
}

// CompiledTransition is one pre-parsed transition.
type CompiledTransition struct {
	Priority int
	To       string
	When     *condition.Compiled
	Actions  []CompiledAction
}

// CompiledAction is one pre-parsed transition action. Which expression fields
// are non-nil depends on Type.
type CompiledAction struct {
	Type types.ActionType

	// set_var
	Name  string
	Value *expr.Expr

	// open_trade
	Direction types.Direction
	Lot       *expr.Expr
	SL        *expr.Expr
	TP        *expr.Expr

	// log
	Message string
}

// CompiledRule is one pre-parsed position-management rule.
type CompiledRule struct {
	Name   string
	Once   bool
	When   *condition.Compiled
	Action CompiledManagementAction
}

// CompiledManagementAction mirrors types.ManagementAction with parsed
// expressions. Step is nil when the rule declared none; the trail then
// re-arms on any favorable move.
type CompiledManagementAction struct {
	Type     types.ManagementActionType
	Value    *expr.Expr
	Distance *expr.Expr
	Step     *expr.Expr
	Percent  *expr.Expr
}

// Compile validates pb and builds its executable form. Validation failures
// return the full ValidationErrors list, not just the first problem.
func Compile(pb *types.Playbook) (*CompiledPlaybook, error) {
	if pb == nil {
		return nil, errors.New(errors.ErrCodePlaybookNotLoaded, "no playbook loaded")
	}

	if err := Validate(pb); err != nil {
		return nil, err
	}

	compiled := &CompiledPlaybook{
		Source:       pb,
		InitialPhase: pb.InitialPhase,
		Phases:       make(map[string]*CompiledPhase, len(pb.Phases)),
	}

	for i := range pb.Phases {
		phase, err := compilePhase(&pb.Phases[i])
		if err != nil {
			return nil, err
		}

		compiled.Phases[phase.Name] = phase
	}

	return compiled, nil
}

func compilePhase(src *types.Phase) (*CompiledPhase, error) {
	phase := &CompiledPhase{
		Name:          src.Name,
		EvaluateOn:    src.EvaluateOn,
		Timeout:       src.Timeout,
		OnTradeClosed: src.OnTradeClosed,
		evaluateOn:    make(map[types.Timeframe]struct{}, len(src.EvaluateOn)),
	}

	for _, tf := range src.EvaluateOn {
		phase.evaluateOn[tf] = struct{}{}
	}

	phase.Transitions = make([]*CompiledTransition, 0, len(src.Transitions))

	for i := range src.Transitions {
		tr, err := compileTransition(&src.Transitions[i])
		if err != nil {
			return nil, err
		}

		phase.Transitions = append(phase.Transitions, tr)
	}

	sort.SliceStable(phase.Transitions, func(i, j int) bool {
		return phase.Transitions[i].Priority < phase.Transitions[j].Priority
	})

	phase.Manage = make([]*CompiledRule, 0, len(src.Manage))

	for i := range src.Manage {
		rule, err := compileRule(&src.Manage[i])
		if err != nil {
			return nil, err
		}

		phase.Manage = append(phase.Manage, rule)
	}

	return phase, nil
}

func compileTransition(src *types.Transition) (*CompiledTransition, error) {
	when, err := condition.Compile(&src.When)
	if err != nil {
		return nil, err
	}

	tr := &CompiledTransition{
		Priority: src.Priority,
		To:       src.To,
		When:     when,
		Actions:  make([]CompiledAction, 0, len(src.Actions)),
	}

	for i := range src.Actions {
		act, err := compileAction(&src.Actions[i])
		if err != nil {
			return nil, err
		}

		tr.Actions = append(tr.Actions, act)
	}

	return tr, nil
}

func compileAction(src *types.Action) (CompiledAction, error) {
	act := CompiledAction{
		Type:      src.Type,
		Name:      src.Name,
		Direction: src.Direction,
		Message:   src.Message,
	}

	var err error

	if src.Value != "" {
		if act.Value, err = expr.Parse(src.Value); err != nil {
			return CompiledAction{}, err
		}
	}

	if src.Lot != "" {
		if act.Lot, err = expr.Parse(src.Lot); err != nil {
			return CompiledAction{}, err
		}
	}

	if src.SL != "" {
		if act.SL, err = expr.Parse(src.SL); err != nil {
			return CompiledAction{}, err
		}
	}

	if src.TP != "" {
		if act.TP, err = expr.Parse(src.TP); err != nil {
			return CompiledAction{}, err
		}
	}

	return act, nil
}

func compileRule(src *types.ManagementRule) (*CompiledRule, error) {
	when, err := condition.Compile(&src.When)
	if err != nil {
		return nil, err
	}

	rule := &CompiledRule{
		Name: src.Name,
		Once: src.Once,
		When: when,
		Action: CompiledManagementAction{
			Type: src.Action.Type,
		},
	}

	if src.Action.Value != "" {
		if rule.Action.Value, err = expr.Parse(src.Action.Value); err != nil {
			return nil, err
		}
	}

	if src.Action.Distance != "" {
		if rule.Action.Distance, err = expr.Parse(src.Action.Distance); err != nil {
			return nil, err
		}
	}

	if src.Action.Step != "" {
		if rule.Action.Step, err = expr.Parse(src.Action.Step); err != nil {
			return nil, err
		}
	}

	if src.Action.Percent != "" {
		if rule.Action.Percent, err = expr.Parse(src.Action.Percent); err != nil {
			return nil, err
		}
	}

	return rule, nil
}

// Phase returns the compiled phase by name.
func (cp *CompiledPlaybook) Phase(name string) (*CompiledPhase, bool) {
	phase, ok := cp.Phases[name]

	return phase, ok
}
