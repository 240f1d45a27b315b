package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenIdent
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenPower
	tokenLParen
	tokenRParen
	tokenComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokenEOF {
		return "end of expression"
	}

	return fmt.Sprintf("%q", t.text)
}

// tokenize splits src into tokens. Identifiers are dotted reference paths
// (ind.rsi14.value, var.x, _price); numbers are unsigned decimal literals.
func tokenize(src string) ([]token, error) {
	var tokens []token

	runes := []rune(src)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case r == '+':
			tokens = append(tokens, token{tokenPlus, "+", i})
			i++

		case r == '-':
			tokens = append(tokens, token{tokenMinus, "-", i})
			i++

		case r == '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				tokens = append(tokens, token{tokenPower, "**", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenStar, "*", i})
				i++
			}

		case r == '/':
			tokens = append(tokens, token{tokenSlash, "/", i})
			i++

		case r == '%':
			tokens = append(tokens, token{tokenPercent, "%", i})
			i++

		case r == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++

		case r == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++

		case r == ',':
			tokens = append(tokens, token{tokenComma, ",", i})
			i++

		case unicode.IsDigit(r):
			start := i
			sawDot := false

			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				if runes[i] == '.' {
					if sawDot {
						return nil, fmt.Errorf("malformed number at position %d", start)
					}

					sawDot = true
				}

				i++
			}

			text := string(runes[start:i])
			if strings.HasSuffix(text, ".") {
				return nil, fmt.Errorf("malformed number %q at position %d", text, start)
			}

			tokens = append(tokens, token{tokenNumber, text, start})

		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}

			text := string(runes[start:i])
			if strings.HasSuffix(text, ".") || strings.Contains(text, "..") {
				return nil, fmt.Errorf("malformed reference %q at position %d", text, start)
			}

			tokens = append(tokens, token{tokenIdent, text, start})

		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(r), i)
		}
	}

	tokens = append(tokens, token{tokenEOF, "", len(runes)})

	return tokens, nil
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
