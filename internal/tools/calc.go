package tools

import (
	"math"
	"strconv"
	"strings"
)

// Evaluate parses and evaluates an arithmetic expression using a
// recursive descent parser. Only numbers, the four basic operators,
// parentheses, unary minus, and a fixed set of named functions are
// accepted; anything else fails with ErrInvalidExpression. The input
// is never handed to an interpreter.
//
// Results keep the distinction between integer and real arithmetic:
// "2 + 2" evaluates to "4", while division and function application
// always produce a real number, so "100 / 4" evaluates to "25.0".
func Evaluate(expr string) (string, error) {
	p := &exprParser{input: expr}
	v, err := p.parseExpr()
	if err != nil {
		return "", err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return "", p.errAt("unexpected character")
	}
	return formatNumber(v), nil
}

// number carries an evaluation result. exact is true while the value
// was produced only by integer literals under + - *; division and
// functions clear it.
type number struct {
	val   float64
	exact bool
}

func formatNumber(n number) string {
	if n.exact {
		return strconv.FormatInt(int64(n.val), 10)
	}
	if n.val == math.Trunc(n.val) && !math.IsInf(n.val, 0) {
		return strconv.FormatFloat(n.val, 'f', 1, 64)
	}
	return strconv.FormatFloat(n.val, 'g', -1, 64)
}

// unaryFuncs are the callable function names. Function results are
// always real.
var unaryFuncs = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"log":   math.Log10,
	"ln":    math.Log,
	"abs":   math.Abs,
	"floor": math.Floor,
	"ceil":  math.Ceil,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) errAt(reason string) error {
	return &ErrInvalidExpression{Expr: p.input, Reason: reason + " at position " + strconv.Itoa(p.pos)}
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.input) {
		return p.input[p.pos]
	}
	return 0
}

// parseExpr handles + and -.
func (p *exprParser) parseExpr() (number, error) {
	left, err := p.parseTerm()
	if err != nil {
		return number{}, err
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return number{}, err
		}
		if op == '+' {
			left = number{val: left.val + right.val, exact: left.exact && right.exact}
		} else {
			left = number{val: left.val - right.val, exact: left.exact && right.exact}
		}
	}
}

// parseTerm handles * and /.
func (p *exprParser) parseTerm() (number, error) {
	left, err := p.parseUnary()
	if err != nil {
		return number{}, err
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return number{}, err
		}
		if op == '*' {
			left = number{val: left.val * right.val, exact: left.exact && right.exact}
		} else {
			if right.val == 0 {
				return number{}, &ErrInvalidExpression{Expr: p.input, Reason: "division by zero"}
			}
			// Division always yields a real result.
			left = number{val: left.val / right.val}
		}
	}
}

// parseUnary handles a leading minus.
func (p *exprParser) parseUnary() (number, error) {
	p.skipSpaces()
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary()
		if err != nil {
			return number{}, err
		}
		return number{val: -v.val, exact: v.exact}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles numbers, parenthesized expressions, and
// function calls.
func (p *exprParser) parsePrimary() (number, error) {
	p.skipSpaces()
	c := p.peek()

	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return number{}, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return number{}, p.errAt("expected closing parenthesis")
		}
		p.pos++
		return v, nil

	case c >= '0' && c <= '9', c == '.':
		return p.parseNumber()

	case isAlpha(c):
		return p.parseFunc()

	case c == 0:
		return number{}, p.errAt("unexpected end of expression")

	default:
		return number{}, p.errAt("unexpected character")
	}
}

func (p *exprParser) parseNumber() (number, error) {
	start := p.pos
	sawDot := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' && !sawDot {
			sawDot = true
			p.pos++
			continue
		}
		break
	}
	lit := p.input[start:p.pos]
	val, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return number{}, &ErrInvalidExpression{Expr: p.input, Reason: "malformed number " + strconv.Quote(lit)}
	}
	return number{val: val, exact: !sawDot}, nil
}

func (p *exprParser) parseFunc() (number, error) {
	start := p.pos
	for p.pos < len(p.input) && isAlpha(p.input[p.pos]) {
		p.pos++
	}
	name := strings.ToLower(p.input[start:p.pos])

	fn, ok := unaryFuncs[name]
	if !ok {
		return number{}, &ErrInvalidExpression{Expr: p.input, Reason: "unknown function " + strconv.Quote(name)}
	}

	p.skipSpaces()
	if p.peek() != '(' {
		return number{}, p.errAt("expected opening parenthesis")
	}
	p.pos++
	arg, err := p.parseExpr()
	if err != nil {
		return number{}, err
	}
	p.skipSpaces()
	if p.peek() != ')' {
		return number{}, p.errAt("expected closing parenthesis")
	}
	p.pos++

	result := fn(arg.val)
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return number{}, &ErrInvalidExpression{Expr: p.input, Reason: name + " argument out of domain"}
	}
	// Function application always yields a real result.
	return number{val: result}, nil
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}
