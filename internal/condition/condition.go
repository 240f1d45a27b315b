// Package condition compiles and evaluates nested AND/OR rule trees. Leaves
// compare two expression results; groups short-circuit left-to-right. All
// parsing happens in Compile so per-bar evaluation never re-reads source text.
package condition

import (
	"math"

	"github.com/rxtech-lab/argo-playbook/internal/expr"
	"github.com/rxtech-lab/argo-playbook/internal/types"
	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// EqualityEpsilon is the absolute tolerance applied to == and != leaves.
// Floating arithmetic on prices regularly produces values that differ in the
// last couple of bits; comparisons treat anything closer than this as equal.
const EqualityEpsilon = 1e-9

// Compiled is an immutable, pre-parsed condition tree ready for repeated
// evaluation against per-bar contexts.
type Compiled struct {
	// Exactly one of the three shapes is populated.
	all []*Compiled
	any []*Compiled

	op    types.CompareOp
	left  *expr.Expr
	right *expr.Expr
}

// Compile validates the shape of node and parses every leaf expression.
// A node must be exactly one of: an "all" group, an "any" group, or a leaf
// with left/op/right. Groups must not be empty.
func Compile(node *types.ConditionNode) (*Compiled, error) {
	if node == nil {
		return nil, errors.New(errors.ErrCodeInvalidCondition, "condition is empty")
	}

	switch {
	case node.IsGroup() && node.IsLeaf():
		return nil, errors.New(errors.ErrCodeInvalidCondition, "condition mixes group and leaf fields")

	case len(node.All) > 0 && len(node.Any) > 0:
		return nil, errors.New(errors.ErrCodeInvalidCondition, "condition declares both all and any")

	case len(node.All) > 0:
		children, err := compileChildren(node.All)
		if err != nil {
			return nil, err
		}

		return &Compiled{all: children}, nil

	case len(node.Any) > 0:
		children, err := compileChildren(node.Any)
		if err != nil {
			return nil, err
		}

		return &Compiled{any: children}, nil

	case node.IsLeaf():
		return compileLeaf(node)

	default:
		return nil, errors.New(errors.ErrCodeInvalidCondition, "condition has neither group nor comparison")
	}
}

func compileChildren(nodes []types.ConditionNode) ([]*Compiled, error) {
	children := make([]*Compiled, 0, len(nodes))

	for i := range nodes {
		child, err := Compile(&nodes[i])
		if err != nil {
			return nil, err
		}

		children = append(children, child)
	}

	return children, nil
}

func compileLeaf(node *types.ConditionNode) (*Compiled, error) {
	if node.Left == "" || node.Right == "" {
		return nil, errors.New(errors.ErrCodeInvalidCondition, "comparison requires both left and right expressions")
	}

	switch node.Op {
	case types.CompareLT, types.CompareGT, types.CompareLE, types.CompareGE, types.CompareEQ, types.CompareNE:
	case "":
		return nil, errors.Newf(errors.ErrCodeInvalidCondition, "comparison %q .. %q is missing an operator", node.Left, node.Right)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidCondition, "unknown comparison operator %q", node.Op)
	}

	left, err := expr.Parse(node.Left)
	if err != nil {
		return nil, err
	}

	right, err := expr.Parse(node.Right)
	if err != nil {
		return nil, err
	}

	return &Compiled{op: node.Op, left: left, right: right}, nil
}

// Eval walks the tree against ctx. Any EvalError from a leaf expression
// propagates to the caller immediately, even inside an "any" group whose
// later children might have evaluated true. A condition is never silently
// false because of an evaluation failure.
func (c *Compiled) Eval(ctx *expr.Context) (bool, error) {
	switch {
	case c.all != nil:
		for _, child := range c.all {
			ok, err := child.Eval(ctx)
			if err != nil {
				return false, err
			}

			if !ok {
				return false, nil
			}
		}

		return true, nil

	case c.any != nil:
		for _, child := range c.any {
			ok, err := child.Eval(ctx)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return false, nil

	default:
		left, err := c.left.Eval(ctx)
		if err != nil {
			return false, err
		}

		right, err := c.right.Eval(ctx)
		if err != nil {
			return false, err
		}

		return compare(left, c.op, right), nil
	}
}

// References returns every reference used anywhere in the tree, deduplicated
// by source text in first-appearance order. Playbook validation uses this to
// check indicator and variable declarations up front.
func (c *Compiled) References() []expr.Ref {
	var refs []expr.Ref

	seen := make(map[string]struct{})
	c.collectRefs(&refs, seen)

	return refs
}

func (c *Compiled) collectRefs(dst *[]expr.Ref, seen map[string]struct{}) {
	for _, child := range c.all {
		child.collectRefs(dst, seen)
	}

	for _, child := range c.any {
		child.collectRefs(dst, seen)
	}

	if c.left == nil {
		return
	}

	for _, r := range c.left.References() {
		if _, ok := seen[r.Raw]; !ok {
			seen[r.Raw] = struct{}{}
			*dst = append(*dst, r)
		}
	}

	for _, r := range c.right.References() {
		if _, ok := seen[r.Raw]; !ok {
			seen[r.Raw] = struct{}{}
			*dst = append(*dst, r)
		}
	}
}

func compare(left float64, op types.CompareOp, right float64) bool {
	switch op {
	case types.CompareLT:
		return left < right
	case types.CompareGT:
		return left > right
	case types.CompareLE:
		return left <= right
	case types.CompareGE:
		return left >= right
	case types.CompareEQ:
		return math.Abs(left-right) <= EqualityEpsilon
	case types.CompareNE:
		return math.Abs(left-right) > EqualityEpsilon
	default:
		return false
	}
}
