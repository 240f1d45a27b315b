package expr

import (
	"strconv"
	"strings"

	"github.com/rxtech-lab/argo-playbook/pkg/errors"
)

// function arity table; -1 means two or more arguments.
var functions = map[string]int{
	"abs":   1,
	"sqrt":  1,
	"log":   1,
	"round": 2,
	"clamp": 3,
	"iff":   3,
	"min":   -1,
	"max":   -1,
}

var barFields = map[string]struct{}{
	"open": {}, "high": {}, "low": {}, "close": {}, "volume": {},
}

var tradeFields = map[string]struct{}{
	"entry_price": {}, "lot": {}, "sl": {}, "tp": {},
	"direction": {}, "bars_open": {}, "pnl": {},
}

var riskFields = map[string]struct{}{
	"max_lot": {}, "max_daily_trades": {}, "max_drawdown_pct": {}, "max_open_positions": {},
}

// Parse tokenizes and parses src into an immutable expression tree. Reference
// shapes, function names and arities are checked here so malformed playbooks
// fail at compile time, before any bar is processed.
func Parse(src string) (*Expr, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return nil, errors.New(errors.ErrCodeInvalidExpression, "empty expression")
	}

	tokens, err := tokenize(trimmed)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidExpression, err, "failed to tokenize %q", trimmed)
	}

	p := &parser{src: trimmed, tokens: tokens}

	root, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	if p.cur().kind != tokenEOF {
		return nil, errors.Newf(errors.ErrCodeInvalidExpression, "unexpected %s after expression in %q", p.cur(), trimmed)
	}

	return &Expr{
		src:  trimmed,
		root: root,
		refs: dedupeRefs(root.refs(nil)),
	}, nil
}

// MustParse parses src and panics on error. For tests and static tables only.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}

	return e
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) cur() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}

	return t
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}

	for {
		switch p.cur().kind {
		case tokenPlus, tokenMinus:
			op := p.advance().text

			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}

			left = &binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		switch p.cur().kind {
		case tokenStar, tokenSlash, tokenPercent:
			op := p.advance().text

			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}

			left = &binaryNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (node, error) {
	if p.cur().kind == tokenMinus {
		p.advance()

		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &unaryNode{op: "-", operand: operand}, nil
	}

	return p.parsePower()
}

// parsePower binds tighter than unary minus and associates right:
// -2**2 is -(2**2), 2**3**2 is 2**(3**2).
func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	if p.cur().kind == tokenPower {
		p.advance()

		exponent, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &binaryNode{op: "**", left: base, right: exponent}, nil
	}

	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.cur()

	switch t.kind {
	case tokenNumber:
		p.advance()

		value, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, errors.Newf(errors.ErrCodeInvalidExpression, "malformed number %q in %q", t.text, p.src)
		}

		return &literalNode{value: value}, nil

	case tokenIdent:
		p.advance()

		if p.cur().kind == tokenLParen {
			return p.parseCall(t.text)
		}

		return p.makeRef(t.text)

	case tokenLParen:
		p.advance()

		inner, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}

		if p.cur().kind != tokenRParen {
			return nil, errors.Newf(errors.ErrCodeInvalidExpression, "unbalanced parenthesis in %q", p.src)
		}

		p.advance()

		return inner, nil

	case tokenEOF:
		return nil, errors.Newf(errors.ErrCodeInvalidExpression, "unexpected end of expression in %q", p.src)

	default:
		return nil, errors.Newf(errors.ErrCodeInvalidExpression, "unexpected %s in %q", t, p.src)
	}
}

func (p *parser) parseCall(name string) (node, error) {
	arity, ok := functions[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnknownFunction, "unknown function %q in %q", name, p.src)
	}

	// consume '('
	p.advance()

	var args []node

	if p.cur().kind != tokenRParen {
		for {
			arg, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}

			args = append(args, arg)

			if p.cur().kind != tokenComma {
				break
			}

			p.advance()
		}
	}

	if p.cur().kind != tokenRParen {
		return nil, errors.Newf(errors.ErrCodeInvalidExpression, "unbalanced parenthesis in call to %q in %q", name, p.src)
	}

	p.advance()

	if arity >= 0 && len(args) != arity {
		return nil, errors.Newf(errors.ErrCodeBadArity, "%s expects %d arguments, got %d in %q", name, arity, len(args), p.src)
	}

	if arity < 0 && len(args) < 2 {
		return nil, errors.Newf(errors.ErrCodeBadArity, "%s expects at least 2 arguments, got %d in %q", name, len(args), p.src)
	}

	return &callNode{fn: name, args: args}, nil
}

// makeRef classifies a dotted identifier into a typed reference. Unknown
// indicator ids and variable names are caught later by playbook validation;
// unknown reference forms and fields are rejected here.
func (p *parser) makeRef(raw string) (node, error) {
	switch raw {
	case "_price":
		return &refNode{ref: Ref{Kind: RefPrice, Raw: raw}}, nil
	case "_spread":
		return &refNode{ref: Ref{Kind: RefSpread, Raw: raw}}, nil
	}

	parts := strings.Split(raw, ".")

	switch parts[0] {
	case "ind", "prev":
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidExpression, "indicator reference %q must be %s.<id>.<field> in %q", raw, parts[0], p.src)
		}

		kind := RefIndicator
		if parts[0] == "prev" {
			kind = RefPrevious
		}

		return &refNode{ref: Ref{Kind: kind, ID: parts[1], Field: parts[2], Raw: raw}}, nil

	case "var":
		if len(parts) != 2 || parts[1] == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidExpression, "variable reference %q must be var.<name> in %q", raw, p.src)
		}

		return &refNode{ref: Ref{Kind: RefVariable, ID: parts[1], Raw: raw}}, nil

	case "bar":
		if len(parts) != 2 {
			return nil, errors.Newf(errors.ErrCodeInvalidExpression, "bar reference %q must be bar.<field> in %q", raw, p.src)
		}

		if _, ok := barFields[parts[1]]; !ok {
			return nil, errors.Newf(errors.ErrCodeUnknownReference, "unknown bar field %q in %q", parts[1], p.src)
		}

		return &refNode{ref: Ref{Kind: RefBar, Field: parts[1], Raw: raw}}, nil

	case "trade":
		if len(parts) != 2 {
			return nil, errors.Newf(errors.ErrCodeInvalidExpression, "trade reference %q must be trade.<field> in %q", raw, p.src)
		}

		if _, ok := tradeFields[parts[1]]; !ok {
			return nil, errors.Newf(errors.ErrCodeUnknownReference, "unknown trade field %q in %q", parts[1], p.src)
		}

		return &refNode{ref: Ref{Kind: RefTrade, Field: parts[1], Raw: raw}}, nil

	case "risk":
		if len(parts) != 2 {
			return nil, errors.Newf(errors.ErrCodeInvalidExpression, "risk reference %q must be risk.<field> in %q", raw, p.src)
		}

		if _, ok := riskFields[parts[1]]; !ok {
			return nil, errors.Newf(errors.ErrCodeUnknownReference, "unknown risk field %q in %q", parts[1], p.src)
		}

		return &refNode{ref: Ref{Kind: RefRisk, Field: parts[1], Raw: raw}}, nil

	default:
		return nil, errors.Newf(errors.ErrCodeUnknownReference, "unknown reference %q in %q", raw, p.src)
	}
}
