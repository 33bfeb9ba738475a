package workflow

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Predicate is the minimal boolean expression language used by step
// conditions and script steps. It supports comparisons (==, !=, <, <=, >,
// >=), && and ||, parentheses, string/number/bool literals, and named
// variable references, and nothing else. Variables resolve against the
// execution's variable bag with dotted-path lookup (step.build.success).
// Free-form code is deliberately not supported.

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenOp     // == != < <= > >=
	tokenAnd    // &&
	tokenOr     // ||
	tokenNot    // !
	tokenLParen // (
	tokenRParen // )
)

type token struct {
	kind tokenKind
	text string
}

type predicateParser struct {
	tokens []token
	pos    int
	vars   map[string]any
}

// EvalPredicate evaluates expr against the variable bag.
func EvalPredicate(expr string, vars map[string]any) (bool, error) {
	tokens, err := tokenize(expr)
	if err != nil {
		return false, fmt.Errorf("predicate %q: %w", expr, err)
	}
	p := &predicateParser{tokens: tokens, vars: vars}
	v, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("predicate %q: %w", expr, err)
	}
	if p.peek().kind != tokenEOF {
		return false, fmt.Errorf("predicate %q: unexpected %q", expr, p.peek().text)
	}
	return truthy(v), nil
}

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++
		case strings.HasPrefix(expr[i:], "&&"):
			tokens = append(tokens, token{tokenAnd, "&&"})
			i += 2
		case strings.HasPrefix(expr[i:], "||"):
			tokens = append(tokens, token{tokenOr, "||"})
			i += 2
		case strings.HasPrefix(expr[i:], "=="), strings.HasPrefix(expr[i:], "!="),
			strings.HasPrefix(expr[i:], "<="), strings.HasPrefix(expr[i:], ">="):
			tokens = append(tokens, token{tokenOp, expr[i : i+2]})
			i += 2
		case c == '<' || c == '>':
			tokens = append(tokens, token{tokenOp, string(c)})
			i++
		case c == '!':
			tokens = append(tokens, token{tokenNot, "!"})
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(expr[i+1:], c)
			if end < 0 {
				return nil, fmt.Errorf("unterminated string")
			}
			tokens = append(tokens, token{tokenString, expr[i+1 : i+1+end]})
			i += end + 2
		case c >= '0' && c <= '9' || c == '-':
			j := i + 1
			for j < len(expr) && (expr[j] >= '0' && expr[j] <= '9' || expr[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokenNumber, expr[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_' || c == '$':
			j := i
			if c == '$' && j+1 < len(expr) && expr[j+1] == '{' {
				end := strings.IndexByte(expr[j:], '}')
				if end < 0 {
					return nil, fmt.Errorf("unterminated variable reference")
				}
				tokens = append(tokens, token{tokenIdent, expr[j+2 : j+end]})
				i = j + end + 1
				continue
			}
			for j < len(expr) && (unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j])) || expr[j] == '_' || expr[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokenIdent, expr[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", c)
		}
	}
	tokens = append(tokens, token{tokenEOF, ""})
	return tokens, nil
}

func (p *predicateParser) peek() token {
	return p.tokens[p.pos]
}

func (p *predicateParser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *predicateParser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *predicateParser) parseAnd() (any, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *predicateParser) parseComparison() (any, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenOp {
		return left, nil
	}
	op := p.next().text
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return compare(op, left, right)
}

func (p *predicateParser) parseOperand() (any, error) {
	t := p.next()
	switch t.kind {
	case tokenNot:
		v, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case tokenLParen:
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokenRParen {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return v, nil
	case tokenString:
		return t.text, nil
	case tokenNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return n, nil
	case tokenIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return lookupVar(p.vars, t.text), nil
	default:
		return nil, fmt.Errorf("unexpected %q", t.text)
	}
}

// lookupVar resolves a dotted path against the variable bag. Missing
// variables resolve to nil, which compares unequal to everything and is
// falsy.
func lookupVar(vars map[string]any, path string) any {
	if v, ok := vars[path]; ok {
		return v
	}
	parts := strings.Split(path, ".")
	var cur any = vars
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func compare(op string, left, right any) (bool, error) {
	ln, lok := toNumber(left)
	rn, rok := toNumber(right)
	if lok && rok {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		}
	}

	ls, rs := toString(left), toString(right)
	switch op {
	case "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "<":
		return ls < rs, nil
	case "<=":
		return ls <= rs, nil
	case ">":
		return ls > rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}
