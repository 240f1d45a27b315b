package playbook

import (
	"fmt"
	"strings"

	"github.com/rxtech-lab/argo-playbook/internal/condition"
	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/internal/version"
)

// ValidationError is one semantic problem found in a playbook document. Path
// locates the offending node, e.g. "phases.entry.transitions[0].when".
type ValidationError struct {
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

// ValidationErrors is the complete list of problems in a document. Validation
// never stops at the first failure; authors fix everything in one pass.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "playbook validation failed with %d problem(s):", len(ve))

	for _, e := range ve {
		sb.WriteString("\n  - ")
		sb.WriteString(e.Error())
	}

	return sb.String()
}

// Validate checks a structurally parsed playbook semantically: the schema
// version gate, the phase graph, name uniqueness, condition shapes, expression
// syntax, and reference resolution. Returns nil or ValidationErrors.
func Validate(pb *types.Playbook) error {
	v := &validator{pb: pb, phases: make(map[string]struct{}, len(pb.Phases))}

	v.checkSchema()
	v.checkDeclarations()
	v.checkPhases()

	if len(v.problems) == 0 {
		return nil
	}

	return v.problems
}

type validator struct {
	pb       *types.Playbook
	phases   map[string]struct{}
	problems ValidationErrors
}

func (v *validator) addf(path, format string, args ...any) {
	v.problems = append(v.problems, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) checkSchema() {
	if err := version.CheckSchemaCompatibility(version.GetSchemaVersion(), v.pb.SchemaVersion); err != nil {
		v.addf("schema_version", "%s", err.Error())
	}
}

func (v *validator) checkDeclarations() {
	for i := range v.pb.Phases {
		name := v.pb.Phases[i].Name
		if _, dup := v.phases[name]; dup {
			v.addf(fmt.Sprintf("phases[%d]", i), "duplicate phase name %q", name)
		}

		v.phases[name] = struct{}{}
	}

	if _, ok := v.phases[v.pb.InitialPhase]; !ok {
		v.addf("initial_phase", "phase %q is not declared", v.pb.InitialPhase)
	}

	vars := make(map[string]struct{}, len(v.pb.Variables))
	for i, spec := range v.pb.Variables {
		if _, dup := vars[spec.Name]; dup {
			v.addf(fmt.Sprintf("variables[%d]", i), "duplicate variable name %q", spec.Name)
		}

		vars[spec.Name] = struct{}{}
	}

	inds := make(map[string]struct{}, len(v.pb.Indicators))
	for i, spec := range v.pb.Indicators {
		if _, dup := inds[spec.ID]; dup {
			v.addf(fmt.Sprintf("indicators[%d]", i), "duplicate indicator id %q", spec.ID)
		}

		inds[spec.ID] = struct{}{}

		if spec.Timeframe != "" && !spec.Timeframe.IsValid() {
			v.addf(fmt.Sprintf("indicators[%d].timeframe", i), "unknown timeframe %q", spec.Timeframe)
		}
	}
}

func (v *validator) checkPhases() {
	for i := range v.pb.Phases {
		v.checkPhase(&v.pb.Phases[i], fmt.Sprintf("phases.%s", v.pb.Phases[i].Name))
	}
}

func (v *validator) checkPhase(phase *types.Phase, path string) {
	if len(phase.EvaluateOn) == 0 {
		v.addf(path+".evaluate_on", "phase declares no timeframes")
	}

	for i, tf := range phase.EvaluateOn {
		if !tf.IsValid() {
			v.addf(fmt.Sprintf("%s.evaluate_on[%d]", path, i), "unknown timeframe %q", tf)
		}
	}

	for i := range phase.Transitions {
		v.checkTransition(&phase.Transitions[i], fmt.Sprintf("%s.transitions[%d]", path, i))
	}

	if phase.Timeout != nil {
		v.checkTimeout(phase, path+".timeout")
	}

	ruleNames := make(map[string]struct{}, len(phase.Manage))

	for i := range phase.Manage {
		rule := &phase.Manage[i]
		rulePath := fmt.Sprintf("%s.manage[%d]", path, i)

		if _, dup := ruleNames[rule.Name]; dup {
			v.addf(rulePath, "duplicate rule name %q", rule.Name)
		}

		ruleNames[rule.Name] = struct{}{}

		v.checkCondition(&rule.When, rulePath+".when")
		v.checkManagementAction(&rule.Action, rulePath+".action")
	}

	if phase.OnTradeClosed != "" {
		v.checkPhaseTarget(phase.OnTradeClosed, path+".on_trade_closed")
	}
}

func (v *validator) checkTransition(tr *types.Transition, path string) {
	v.checkPhaseTarget(tr.To, path+".to")
	v.checkCondition(&tr.When, path+".when")

	for i := range tr.Actions {
		v.checkAction(&tr.Actions[i], fmt.Sprintf("%s.actions[%d]", path, i))
	}
}

func (v *validator) checkTimeout(phase *types.Phase, path string) {
	timeout := phase.Timeout

	if timeout.Bars <= 0 {
		v.addf(path+".bars", "bar count must be positive, got %d", timeout.Bars)
	}

	if !timeout.Timeframe.IsValid() {
		v.addf(path+".timeframe", "unknown timeframe %q", timeout.Timeframe)
	} else {
		found := false

		for _, tf := range phase.EvaluateOn {
			if tf == timeout.Timeframe {
				found = true

				break
			}
		}

		if !found {
			v.addf(path+".timeframe", "timeframe %s is not in the phase's evaluate_on list", timeout.Timeframe)
		}
	}

	v.checkPhaseTarget(timeout.To, path+".to")
}

func (v *validator) checkAction(act *types.Action, path string) {
	switch act.Type {
	case types.ActionSetVar:
		if act.Name == "" {
			v.addf(path, "set_var requires a variable name")
		} else if _, ok := v.pb.Variable(act.Name); !ok {
			v.addf(path+".name", "variable %q is not declared", act.Name)
		}

		if act.Value == "" {
			v.addf(path, "set_var requires a value expression")
		} else {
			v.checkExpr(act.Value, path+".value")
		}

	case types.ActionOpenTrade:
		if act.Direction != types.DirectionBuy && act.Direction != types.DirectionSell {
			v.addf(path+".direction", "open_trade direction must be buy or sell, got %q", act.Direction)
		}

		if act.Lot == "" {
			v.addf(path, "open_trade requires a lot expression")
		} else {
			v.checkExpr(act.Lot, path+".lot")
		}

		if act.SL != "" {
			v.checkExpr(act.SL, path+".sl")
		}

		if act.TP != "" {
			v.checkExpr(act.TP, path+".tp")
		}

	case types.ActionCloseTrade, types.ActionLog:
		// No expression fields.

	default:
		v.addf(path+".type", "unknown action type %q", act.Type)
	}
}

func (v *validator) checkManagementAction(act *types.ManagementAction, path string) {
	switch act.Type {
	case types.ManagementModifySL, types.ManagementModifyTP:
		if act.Value == "" {
			v.addf(path, "%s requires a value expression", act.Type)
		} else {
			v.checkExpr(act.Value, path+".value")
		}

	case types.ManagementTrailSL:
		if act.Distance == "" {
			v.addf(path, "trail_sl requires a distance expression")
		} else {
			v.checkExpr(act.Distance, path+".distance")
		}

		if act.Step != "" {
			v.checkExpr(act.Step, path+".step")
		}

	case types.ManagementPartialClose:
		if act.Percent == "" {
			v.addf(path, "partial_close requires a percent expression")
		} else {
			v.checkExpr(act.Percent, path+".percent")
		}

	default:
		v.addf(path+".type", "unknown management action type %q", act.Type)
	}
}

func (v *validator) checkPhaseTarget(name, path string) {
	if name == "" {
		v.addf(path, "target phase is empty")

		return
	}

	if _, ok := v.phases[name]; !ok {
		v.addf(path, "target phase %q is not declared", name)
	}
}

func (v *validator) checkCondition(node *types.ConditionNode, path string) {
	compiled, err := condition.Compile(node)
	if err != nil {
		v.addf(path, "%s", err.Error())

		return
	}

	v.checkRefs(compiled.References(), path)
}

func (v *validator) checkExpr(src, path string) {
	parsed, err := expr.Parse(src)
	if err != nil {
		v.addf(path, "%s", err.Error())

		return
	}

	v.checkRefs(parsed.References(), path)
}

// checkRefs resolves indicator and variable references against the playbook's
// declarations. Bar, price, risk and trade references need no declaration;
// trade references that run with no open position surface as runtime
// diagnostics instead.
func (v *validator) checkRefs(refs []expr.Ref, path string) {
	for _, ref := range refs {
		switch ref.Kind {
		case expr.RefIndicator, expr.RefPrevious:
			if _, ok := v.pb.Indicator(ref.ID); !ok {
				v.addf(path, "indicator %q is not declared (referenced as %s)", ref.ID, ref.Raw)
			}

		case expr.RefVariable:
			if _, ok := v.pb.Variable(ref.ID); !ok {
				v.addf(path, "variable %q is not declared (referenced as %s)", ref.ID, ref.Raw)
			}
		}
	}
}
