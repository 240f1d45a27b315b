package expr

// RefKind is the category of a context reference in an expression.
type RefKind string

const (
	RefIndicator RefKind = "ind"
	RefPrevious  RefKind = "prev"
	RefVariable  RefKind = "var"
	RefBar       RefKind = "bar"
	RefTrade     RefKind = "trade"
	RefRisk      RefKind = "risk"
	RefPrice     RefKind = "_price"
	RefSpread    RefKind = "_spread"
)

// Ref identifies one context reference used by an expression. For indicator
// references ID is the indicator id and Field the output field; for var
// references ID is the variable name; for bar/trade/risk references Field is
// the accessed field.
type Ref struct {
	Kind  RefKind
	ID    string
	Field string
	Raw   string
}

type node interface {
	// refs appends the node's references to dst.
	refs(dst []Ref) []Ref
}

type literalNode struct {
	value float64
}

func (n *literalNode) refs(dst []Ref) []Ref { return dst }

type refNode struct {
	ref Ref
}

func (n *refNode) refs(dst []Ref) []Ref { return append(dst, n.ref) }

type unaryNode struct {
	op      string
	operand node
}

func (n *unaryNode) refs(dst []Ref) []Ref { return n.operand.refs(dst) }

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) refs(dst []Ref) []Ref {
	dst = n.left.refs(dst)

	return n.right.refs(dst)
}

type callNode struct {
	fn   string
	args []node
}

func (n *callNode) refs(dst []Ref) []Ref {
	for _, arg := range n.args {
		dst = arg.refs(dst)
	}

	return dst
}

// Expr is a parsed, immutable expression. Parsing happens once at playbook
// compile time; Eval runs per bar against a Context.
type Expr struct {
	src  string
	root node
	refs []Ref
}

// Source returns the original expression text.
func (e *Expr) Source() string {
	return e.src
}

// References returns the distinct context references the expression uses, in
// first-appearance order. Playbook validation resolves each against the
// declared indicators and variables.
func (e *Expr) References() []Ref {
	out := make([]Ref, len(e.refs))
	copy(out, e.refs)

	return out
}

func dedupeRefs(refs []Ref) []Ref {
	seen := make(map[string]struct{}, len(refs))
	out := refs[:0]

	for _, r := range refs {
		if _, ok := seen[r.Raw]; ok {
			continue
		}

		seen[r.Raw] = struct{}{}
		out = append(out, r)
	}

	return out
}
