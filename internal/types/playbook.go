package types

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CompareOp is a leaf comparison operator in a condition tree.
type CompareOp string

const (
	CompareLT CompareOp = "<"
	CompareGT CompareOp = ">"
	CompareLE CompareOp = "<="
	CompareGE CompareOp = ">="
	CompareEQ CompareOp = "=="
	CompareNE CompareOp = "!="
)

// ActionType is a transition action kind.
type ActionType string

const (
	ActionSetVar     ActionType = "set_var"
	ActionOpenTrade  ActionType = "open_trade"
	ActionCloseTrade ActionType = "close_trade"
	ActionLog        ActionType = "log"
)

// ManagementActionType is a position-management rule action kind.
type ManagementActionType string

const (
	ManagementModifySL     ManagementActionType = "modify_sl"
	ManagementModifyTP     ManagementActionType = "modify_tp"
	ManagementTrailSL      ManagementActionType = "trail_sl"
	ManagementPartialClose ManagementActionType = "partial_close"
)

// ConditionNode is one node of a condition tree: either a group (exactly one
// of All/Any set) or a leaf comparison (Left/Op/Right set). Shape is enforced
// at playbook compile time, not during yaml decoding.
type ConditionNode struct {
	// All evaluates children left-to-right, short-circuiting at the first false.
	All []ConditionNode `yaml:"all,omitempty" json:"all,omitempty" jsonschema:"description=AND group of child conditions"`
	// Any evaluates children left-to-right, short-circuiting at the first true.
	Any []ConditionNode `yaml:"any,omitempty" json:"any,omitempty" jsonschema:"description=OR group of child conditions"`

	Left  string    `yaml:"left,omitempty" json:"left,omitempty" jsonschema:"description=Left-hand expression of a leaf comparison"`
	Op    CompareOp `yaml:"op,omitempty" json:"op,omitempty" jsonschema:"description=Comparison operator: < > <= >= == !="`
	Right string    `yaml:"right,omitempty" json:"right,omitempty" jsonschema:"description=Right-hand expression of a leaf comparison"`
}

// IsGroup reports whether the node is an AND/OR group rather than a leaf.
func (n *ConditionNode) IsGroup() bool {
	return len(n.All) > 0 || len(n.Any) > 0
}

// IsLeaf reports whether the node carries a leaf comparison.
func (n *ConditionNode) IsLeaf() bool {
	return n.Left != "" || n.Op != "" || n.Right != ""
}

// Action is one transition action. Which fields apply depends on Type:
// set_var uses Name+Value, open_trade uses Direction+Lot+SL+TP,
// close_trade takes no fields, log uses Message.
type Action struct {
	Type ActionType `yaml:"type" json:"type" validate:"required,oneof=set_var open_trade close_trade log"`

	// set_var
	Name  string `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"description=Variable name written by set_var"`
	Value string `yaml:"value,omitempty" json:"value,omitempty" jsonschema:"description=Expression producing the value for set_var"`

	// open_trade
	Direction Direction `yaml:"direction,omitempty" json:"direction,omitempty" jsonschema:"description=Trade direction for open_trade: buy or sell"`
	Lot       string    `yaml:"lot,omitempty" json:"lot,omitempty" jsonschema:"description=Expression producing the lot size for open_trade"`
	SL        string    `yaml:"sl,omitempty" json:"sl,omitempty" jsonschema:"description=Optional expression producing the stop-loss price"`
	TP        string    `yaml:"tp,omitempty" json:"tp,omitempty" jsonschema:"description=Optional expression producing the take-profit price"`

	// log
	Message string `yaml:"message,omitempty" json:"message,omitempty" jsonschema:"description=Message emitted by the log action"`
}

// Transition is a conditioned, prioritized move to another phase. Lower
// priority values are evaluated first; the first satisfied transition wins.
type Transition struct {
	Priority int           `yaml:"priority" json:"priority" jsonschema:"description=Evaluation order; lower fires first"`
	To       string        `yaml:"to" json:"to" validate:"required" jsonschema:"description=Target phase name"`
	When     ConditionNode `yaml:"when" json:"when" jsonschema:"description=Condition tree gating the transition"`
	Actions  []Action      `yaml:"actions,omitempty" json:"actions,omitempty" validate:"dive" jsonschema:"description=Actions executed in order when the transition fires"`
}

// TimeoutSpec forces a transition after a number of bars without any
// transition firing.
type TimeoutSpec struct {
	Bars      int       `yaml:"bars" json:"bars" validate:"gt=0" jsonschema:"description=Bar count before the timeout fires"`
	Timeframe Timeframe `yaml:"timeframe" json:"timeframe" validate:"required" jsonschema:"description=Timeframe whose bar closes advance the counter"`
	To        string    `yaml:"to" json:"to" validate:"required" jsonschema:"description=Target phase when the timeout fires"`
}

// ManagementAction is the single action of a position-management rule.
type ManagementAction struct {
	Type ManagementActionType `yaml:"type" json:"type" validate:"required,oneof=modify_sl modify_tp trail_sl partial_close"`

	// modify_sl / modify_tp
	Value string `yaml:"value,omitempty" json:"value,omitempty" jsonschema:"description=Expression producing the new SL/TP price"`

	// trail_sl
	Distance string `yaml:"distance,omitempty" json:"distance,omitempty" jsonschema:"description=Expression: trailing distance from price"`
	Step     string `yaml:"step,omitempty" json:"step,omitempty" jsonschema:"description=Expression: minimum favorable move before the trail re-arms"`

	// partial_close
	Percent string `yaml:"percent,omitempty" json:"percent,omitempty" jsonschema:"description=Expression: percentage of remaining lot to close"`
}

// ManagementRule manages an open position while its phase is active.
type ManagementRule struct {
	Name   string           `yaml:"name" json:"name" validate:"required" jsonschema:"description=Rule name; also keys the once-per-position bookkeeping"`
	Once   bool             `yaml:"once,omitempty" json:"once,omitempty" jsonschema:"description=Fire at most once per open-position lifetime"`
	When   ConditionNode    `yaml:"when" json:"when" jsonschema:"description=Condition tree gating the rule"`
	Action ManagementAction `yaml:"action" json:"action" validate:"required"`
}

// Phase is one state of the playbook state machine.
type Phase struct {
	Name          string           `yaml:"name" json:"name" validate:"required" jsonschema:"description=Unique phase name"`
	EvaluateOn    []Timeframe      `yaml:"evaluate_on" json:"evaluate_on" validate:"required,min=1" jsonschema:"description=Timeframes whose bar closes trigger evaluation"`
	Transitions   []Transition     `yaml:"transitions,omitempty" json:"transitions,omitempty" validate:"dive"`
	Timeout       *TimeoutSpec     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Manage        []ManagementRule `yaml:"manage,omitempty" json:"manage,omitempty" validate:"dive"`
	OnTradeClosed string           `yaml:"on_trade_closed,omitempty" json:"on_trade_closed,omitempty" jsonschema:"description=Phase to enter when the open position closes"`
}

// VariableSpec declares a typed playbook variable. Booleans are numeric 0/1
// in the expression language.
type VariableSpec struct {
	Name    string       `yaml:"name" json:"name" validate:"required" jsonschema:"description=Variable name referenced as var.<name>"`
	Type    VariableType `yaml:"type" json:"type" validate:"required,oneof=number bool" jsonschema:"description=Value type: number or bool"`
	Default float64      `yaml:"default" json:"default" jsonschema:"description=Initial value; bools use 0/1"`
}

// VariableType is a declared variable's value type.
type VariableType string

const (
	VariableTypeNumber VariableType = "number"
	VariableTypeBool   VariableType = "bool"
)

// RiskConfig caps what the playbook may do per run.
type RiskConfig struct {
	MaxLot           float64 `yaml:"max_lot" json:"max_lot" validate:"gte=0" jsonschema:"description=Maximum lot size per trade; 0 disables the check"`
	MaxDailyTrades   int     `yaml:"max_daily_trades" json:"max_daily_trades" validate:"gte=0" jsonschema:"description=Maximum opened trades per calendar day; 0 disables the check"`
	MaxDrawdownPct   float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct" validate:"gte=0,lte=100" jsonschema:"description=Open-trade block once drawdown exceeds this percentage; 0 disables the check"`
	MaxOpenPositions int     `yaml:"max_open_positions" json:"max_open_positions" validate:"gte=0" jsonschema:"description=Maximum concurrent open positions; 0 disables the check"`
}

// Playbook is a declarative multi-phase trading strategy definition. It is
// immutable per run; sweeps clone it before overriding parameters.
type Playbook struct {
	SchemaVersion string          `yaml:"schema_version" json:"schema_version" validate:"required" jsonschema:"description=Playbook document schema version (semver)"`
	ID            string          `yaml:"id" json:"id" validate:"required" jsonschema:"description=Unique playbook identifier"`
	Name          string          `yaml:"name,omitempty" json:"name,omitempty" jsonschema:"description=Human-readable playbook name"`
	InitialPhase  string          `yaml:"initial_phase" json:"initial_phase" validate:"required" jsonschema:"description=Phase the state machine starts in"`
	Risk          RiskConfig      `yaml:"risk" json:"risk"`
	Variables     []VariableSpec  `yaml:"variables,omitempty" json:"variables,omitempty" validate:"dive"`
	Indicators    []IndicatorSpec `yaml:"indicators,omitempty" json:"indicators,omitempty" validate:"dive"`
	Phases        []Phase         `yaml:"phases" json:"phases" validate:"required,min=1,dive"`
}

// ParsePlaybook decodes a playbook document from yaml and checks its
// structural tags. Semantic validation (reference resolution, phase graph)
// happens at compile time.
func ParsePlaybook(data []byte) (*Playbook, error) {
	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return nil, errors.Wrap(errors.ErrCodePlaybookParseFailed, "failed to parse playbook yaml", err)
	}

	if err := pb.Validate(); err != nil {
		return nil, err
	}

	return &pb, nil
}

// ParsePlaybookFile reads and parses a playbook document from disk.
func ParsePlaybookFile(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeDataNotFound, err, "failed to read playbook file %s", path)
	}

	return ParsePlaybook(data)
}

// Validate validates the Playbook struct tags.
func (pb *Playbook) Validate() error {
	validate := validator.New()
	if err := validate.Struct(pb); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidPlaybook, "invalid playbook", err)
	}

	return nil
}

// Phase returns the phase with the given name, if declared.
func (pb *Playbook) Phase(name string) (*Phase, bool) {
	for i := range pb.Phases {
		if pb.Phases[i].Name == name {
			return &pb.Phases[i], true
		}
	}

	return nil, false
}

// Variable returns the variable spec with the given name, if declared.
func (pb *Playbook) Variable(name string) (*VariableSpec, bool) {
	for i := range pb.Variables {
		if pb.Variables[i].Name == name {
			return &pb.Variables[i], true
		}
	}

	return nil, false
}

// Indicator returns the indicator spec with the given id, if declared.
func (pb *Playbook) Indicator(id string) (*IndicatorSpec, bool) {
	for i := range pb.Indicators {
		if pb.Indicators[i].ID == id {
			return &pb.Indicators[i], true
		}
	}

	return nil, false
}

// Clone returns a deep copy. Sweep combinations mutate their own clone;
// nothing is shared with the receiver.
func (pb *Playbook) Clone() *Playbook {
	clone := *pb

	// Nil slices stay nil so a clone compares equal to its source.
	if pb.Variables != nil {
		clone.Variables = make([]VariableSpec, len(pb.Variables))
		copy(clone.Variables, pb.Variables)
	}

	if pb.Indicators != nil {
		clone.Indicators = make([]IndicatorSpec, len(pb.Indicators))
		for i, ind := range pb.Indicators {
			clone.Indicators[i] = ind
			if ind.Params != nil {
				params := make(map[string]float64, len(ind.Params))
				for k, v := range ind.Params {
					params[k] = v
				}

				clone.Indicators[i].Params = params
			}
		}
	}

	clone.Phases = make([]Phase, len(pb.Phases))
	for i := range pb.Phases {
		clone.Phases[i] = clonePhase(&pb.Phases[i])
	}

	return &clone
}

func clonePhase(p *Phase) Phase {
	clone := *p

	if p.EvaluateOn != nil {
		clone.EvaluateOn = make([]Timeframe, len(p.EvaluateOn))
		copy(clone.EvaluateOn, p.EvaluateOn)
	}

	if p.Transitions != nil {
		clone.Transitions = make([]Transition, len(p.Transitions))
		for i, tr := range p.Transitions {
			clone.Transitions[i] = tr
			clone.Transitions[i].When = cloneCondition(&tr.When)
			if tr.Actions != nil {
				clone.Transitions[i].Actions = make([]Action, len(tr.Actions))
				copy(clone.Transitions[i].Actions, tr.Actions)
			}
		}
	}

	if p.Timeout != nil {
		timeout := *p.Timeout
		clone.Timeout = &timeout
	}

	if p.Manage != nil {
		clone.Manage = make([]ManagementRule, len(p.Manage))
		for i, rule := range p.Manage {
			clone.Manage[i] = rule
			clone.Manage[i].When = cloneCondition(&rule.When)
		}
	}

	return clone
}

func cloneCondition(n *ConditionNode) ConditionNode {
	clone := *n

	if len(n.All) > 0 {
		clone.All = make([]ConditionNode, len(n.All))
		for i := range n.All {
			clone.All[i] = cloneCondition(&n.All[i])
		}
	}

	if len(n.Any) > 0 {
		clone.Any = make([]ConditionNode, len(n.Any))
		for i := range n.Any {
			clone.Any[i] = cloneCondition(&n.Any[i])
		}
	}

	return clone
}
