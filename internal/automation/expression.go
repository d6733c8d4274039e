package automation

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Restricted boolean expression language for custom conditions.
//
// Expressions compare context paths against literals and combine results
// with and/or/not and parentheses:
//
//	device.light-living.brightness > 50 and weather.condition == 'rain'
//	not (time.hour >= 22 or time.hour < 6)
//
// Paths resolve read-only against the EvalContext:
//
//	device.<deviceId>.<attribute...>  - device state lookup
//	weather.condition|temperature|humidity
//	time.hour|minute
//
// The string is parsed into a small comparison AST and interpreted; it is
// never compiled or executed as code.

// evalExpression parses and evaluates an expression against the context.
func evalExpression(input string, evalCtx EvalContext) (bool, error) {
	p := &exprParser{tokens: tokenize(input)}
	result, err := p.parseOr(evalCtx)
	if err != nil {
		return false, err
	}
	if !p.atEnd() {
		return false, fmt.Errorf("unexpected token %q", p.peek())
	}
	return result, nil
}

// ─── Tokenizer ──────────────────────────────────────────────────────────────

func tokenize(input string) []string {
	var tokens []string
	i := 0
	for i < len(input) {
		c := rune(input[i])

		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(' || c == ')':
			tokens = append(tokens, string(c))
			i++
		case c == '\'' || c == '"':
			// Quoted string literal, kept with its quotes.
			quote := input[i]
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j < len(input) {
				j++
			}
			tokens = append(tokens, input[i:j])
			i = j
		case strings.ContainsRune("=!<>", c):
			// Comparison operator, possibly two characters.
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, input[i:i+2])
				i += 2
			} else {
				tokens = append(tokens, string(c))
				i++
			}
		default:
			// Identifier path or number.
			j := i
			for j < len(input) && isWordChar(rune(input[j])) {
				j++
			}
			if j == i {
				// Unknown character; emit it so the parser reports it.
				tokens = append(tokens, string(c))
				i++
			} else {
				tokens = append(tokens, input[i:j])
				i = j
			}
		}
	}
	return tokens
}

func isWordChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '.' || c == '_' || c == '-'
}

// ─── Parser ─────────────────────────────────────────────────────────────────

type exprParser struct {
	tokens []string
	pos    int
}

func (p *exprParser) atEnd() bool { return p.pos >= len(p.tokens) }

func (p *exprParser) peek() string {
	if p.atEnd() {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *exprParser) next() string {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *exprParser) parseOr(evalCtx EvalContext) (bool, error) {
	result, err := p.parseAnd(evalCtx)
	if err != nil {
		return false, err
	}
	for p.peek() == "or" {
		p.next()
		r, err := p.parseAnd(evalCtx)
		if err != nil {
			return false, err
		}
		result = result || r
	}
	return result, nil
}

func (p *exprParser) parseAnd(evalCtx EvalContext) (bool, error) {
	result, err := p.parseNot(evalCtx)
	if err != nil {
		return false, err
	}
	for p.peek() == "and" {
		p.next()
		r, err := p.parseNot(evalCtx)
		if err != nil {
			return false, err
		}
		result = result && r
	}
	return result, nil
}

func (p *exprParser) parseNot(evalCtx EvalContext) (bool, error) {
	if p.peek() == "not" {
		p.next()
		r, err := p.parseNot(evalCtx)
		if err != nil {
			return false, err
		}
		return !r, nil
	}
	return p.parsePrimary(evalCtx)
}

func (p *exprParser) parsePrimary(evalCtx EvalContext) (bool, error) {
	if p.peek() == "(" {
		p.next()
		result, err := p.parseOr(evalCtx)
		if err != nil {
			return false, err
		}
		if p.next() != ")" {
			return false, fmt.Errorf("missing closing parenthesis")
		}
		return result, nil
	}
	return p.parseComparison(evalCtx)
}

// parseComparison evaluates "operand [op operand]". A bare operand is
// interpreted as truthiness (true bool, non-zero number, non-empty string).
func (p *exprParser) parseComparison(evalCtx EvalContext) (bool, error) {
	left, err := p.parseOperand(evalCtx)
	if err != nil {
		return false, err
	}

	op := p.peek()
	switch op {
	case "==", "!=", ">", "<", ">=", "<=":
		p.next()
	default:
		return truthy(left), nil
	}

	right, err := p.parseOperand(evalCtx)
	if err != nil {
		return false, err
	}
	return applyComparison(op, left, right)
}

// parseOperand resolves the next token to a literal or a context value.
func (p *exprParser) parseOperand(evalCtx EvalContext) (any, error) {
	tok := p.next()
	if tok == "" {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	// String literal.
	if len(tok) >= 2 && (tok[0] == '\'' || tok[0] == '"') {
		return tok[1 : len(tok)-1], nil
	}

	// Boolean literal.
	if tok == "true" {
		return true, nil
	}
	if tok == "false" {
		return false, nil
	}

	// Number literal.
	if n, err := strconv.ParseFloat(tok, 64); err == nil {
		return n, nil
	}

	// Context path.
	return resolvePath(tok, evalCtx)
}

// resolvePath reads a dot path from the evaluation context.
// Unknown paths resolve to nil rather than erroring, so comparisons against
// missing state simply fail.
func resolvePath(path string, evalCtx EvalContext) (any, error) {
	segments := strings.Split(path, ".")

	switch segments[0] {
	case "device":
		if len(segments) < 3 {
			return nil, fmt.Errorf("device path %q needs device.<id>.<attribute>", path)
		}
		attrs, ok := evalCtx.DeviceStates[segments[1]]
		if !ok {
			return nil, nil
		}
		value, _ := lookupPath(attrs, strings.Join(segments[2:], "."))
		return value, nil

	case "weather":
		if evalCtx.Weather == nil || len(segments) != 2 {
			return nil, nil
		}
		switch segments[1] {
		case "condition":
			return evalCtx.Weather.Condition, nil
		case "temperature":
			return evalCtx.Weather.Temperature, nil
		case "humidity":
			return evalCtx.Weather.Humidity, nil
		}
		return nil, nil

	case "time":
		if len(segments) != 2 {
			return nil, nil
		}
		now := evalCtx.clock()
		switch segments[1] {
		case "hour":
			return float64(now.Hour()), nil
		case "minute":
			return float64(now.Minute()), nil
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown context root %q", segments[0])
	}
}

// applyComparison evaluates a binary comparison between resolved operands.
func applyComparison(op string, left, right any) (bool, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	}

	a, b, ok := bothNumeric(left, right)
	if !ok {
		// Ordered comparison on strings.
		as, aok := left.(string)
		bs, bok := right.(string)
		if !aok || !bok {
			return false, nil
		}
		switch op {
		case ">":
			return as > bs, nil
		case "<":
			return as < bs, nil
		case ">=":
			return as >= bs, nil
		case "<=":
			return as <= bs, nil
		}
		return false, fmt.Errorf("unknown operator %q", op)
	}

	switch op {
	case ">":
		return a > b, nil
	case "<":
		return a < b, nil
	case ">=":
		return a >= b, nil
	case "<=":
		return a <= b, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// truthy interprets a bare operand as a boolean.
func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case nil:
		return false
	default:
		return true
	}
}
