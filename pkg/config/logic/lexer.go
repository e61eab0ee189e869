package logic

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokVersion
	tokOperator
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokNumber:
		return "number"
	case tokVersion:
		return "version"
	case tokOperator:
		return "comparison operator"
	case tokAnd:
		return "&&"
	case tokOr:
		return "||"
	case tokLParen:
		return "("
	case tokRParen:
		return ")"
	default:
		return "unknown"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// comparison operators, longest first
var operators = []string{"===", ">=", "<=", ">", "<"}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// tokenize splits a condition into tokens.
func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++

		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++

		case strings.HasPrefix(src[i:], "&&"):
			tokens = append(tokens, token{tokAnd, "&&", i})
			i += 2

		case strings.HasPrefix(src[i:], "||"):
			tokens = append(tokens, token{tokOr, "||", i})
			i += 2

		case c == '=' || c == '<' || c == '>':
			op := ""
			for _, candidate := range operators {
				if strings.HasPrefix(src[i:], candidate) {
					op = candidate
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("unknown operator at offset %d", i)
			}
			tokens = append(tokens, token{tokOperator, op, i})
			i += len(op)

		case isLetter(c):
			start := i
			for i < len(src) && (isLetter(src[i]) || isDigit(src[i])) {
				i++
			}
			tokens = append(tokens, token{tokIdent, src[start:i], start})

		case isDigit(c):
			tok, next, err := lexNumber(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next

		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return append(tokens, token{tokEOF, "", len(src)}), nil
}

// lexNumber reads a hex number, a decimal number or a dotted version with
// two or three components.
func lexNumber(src string, start int) (token, int, error) {
	i := start
	if strings.HasPrefix(src[i:], "0x") {
		i += 2
		for i < len(src) && isHex(src[i]) {
			i++
		}
		if i == start+2 {
			return token{}, 0, fmt.Errorf("incomplete hex number at offset %d", start)
		}
		return token{tokNumber, src[start:i], start}, i, nil
	}

	components := 1
	for {
		for i < len(src) && isDigit(src[i]) {
			i++
		}
		if i+1 < len(src) && src[i] == '.' && isDigit(src[i+1]) {
			components++
			i++
			continue
		}
		break
	}
	if i < len(src) && src[i] == '.' {
		return token{}, 0, fmt.Errorf("incomplete version at offset %d", start)
	}

	switch {
	case components == 1:
		return token{tokNumber, src[start:i], start}, i, nil
	case components <= 3:
		return token{tokVersion, src[start:i], start}, i, nil
	default:
		return token{}, 0, fmt.Errorf("version with more than 3 components at offset %d", start)
	}
}
