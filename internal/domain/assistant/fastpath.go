package assistant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// FastPathAnswer returns a deterministic answer for utterances that need no
// model call, no context assembly, and no quota check. The second return is
// false when the utterance requires the full path. Keeping this check ahead
// of everything else is a response-latency contract, not an optimization.
func FastPathAnswer(utterance string) (string, bool) {
	s := strings.TrimSpace(utterance)
	if s == "" {
		return "", false
	}

	switch strings.ToLower(strings.TrimRight(s, "?!.")) {
	case "ping":
		return "pong", true
	case "help":
		return "Ask me about enrollment, finances, or progress, or say \"list members\" to see your organization.", true
	}

	if v, err := evalArithmetic(s); err == nil {
		return formatNumber(v), true
	}

	return "", false
}

// formatNumber trims trailing zeros so 4.0 prints as "4".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// evalArithmetic evaluates an expression of numbers, + - * / and parens
// using a recursive descent parser. Anything else is an error.
func evalArithmetic(s string) (float64, error) {
	p := &exprParser{input: s}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected %q at %d", p.input[p.pos], p.pos)
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
	depth int
}

const maxExprDepth = 32

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() (byte, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, false
	}
	return p.input[p.pos], true
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '+' && c != '-') {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if c == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		c, ok := p.peek()
		if !ok || (c != '*' && c != '/') {
			return left, nil
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if c == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, errors.New("division by zero")
			}
			left /= right
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	c, ok := p.peek()
	if !ok {
		return 0, errors.New("unexpected end of expression")
	}

	if c == '(' {
		p.depth++
		if p.depth > maxExprDepth {
			return 0, errors.New("expression too deep")
		}
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		c, ok = p.peek()
		if !ok || c != ')' {
			return 0, errors.New("missing closing paren")
		}
		p.pos++
		p.depth--
		return v, nil
	}

	if c == '-' {
		p.pos++
		v, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -v, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("parse number: %w", err)
	}
	return v, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
