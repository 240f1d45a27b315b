package playbook

import (
	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// RuntimeState is the mutable per-run state of one (playbook, symbol) pair.
// The machine owns every mutation; callers read it between bars.
type RuntimeState struct {
	PlaybookID   string
	Symbol       string
	CurrentPhase string
	// BarsInPhase counts closed bars of the current phase's timeout timeframe
	// on which no transition fired. Reset on every phase entry.
	BarsInPhase int
	Vars        map[string]float64
	// Position is nil while flat.
	Position *types.Position
	// FiredRules tracks once-flagged management rules that already fired for
	// the current open position. Cleared when the position fully closes.
	FiredRules map[string]struct{}
}

// NewRuntimeState builds the initial state for a compiled playbook: current
// phase set to initial_phase, variables at their declared defaults, no open
// position.
func NewRuntimeState(cp *CompiledPlaybook, symbol string) *RuntimeState {
	vars := make(map[string]float64, len(cp.Source.Variables))
	for _, spec := range cp.Source.Variables {
		vars[spec.Name] = spec.Default
	}

	return &RuntimeState{
		PlaybookID:   cp.Source.ID,
		Symbol:       symbol,
		CurrentPhase: cp.InitialPhase,
		Vars:         vars,
		FiredRules:   make(map[string]struct{}),
	}
}

// enterPhase moves the state machine to a phase and resets the timeout
// counter.
func (st *RuntimeState) enterPhase(name string) {
	st.CurrentPhase = name
	st.BarsInPhase = 0
}

// clearPosition drops the open-position reference and the fired-rule set.
func (st *RuntimeState) clearPosition() {
	st.Position = nil
	st.FiredRules = make(map[string]struct{})
}
