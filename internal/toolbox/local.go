package toolbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func builtinTools() []Tool {
	return []Tool{
		{
			Name:        "calculator",
			Description: "Evaluates a basic arithmetic expression (digits, + - * /, parentheses).",
			SchemaJSON:  calculatorSchema,
			Fn:          calculatorTool,
		},
	}
}

func calculatorTool(_ context.Context, args map[string]any) (map[string]any, error) {
	expr, _ := args["expression"].(string)
	if !validExpression(expr) {
		return nil, fmt.Errorf("expression contains unsupported characters")
	}
	value, err := evalExpression(expr)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"tool":       "calculator",
		"expression": expr,
		"result":     value,
	}, nil
}

// validExpression restricts the calculator to a safe arithmetic charset.
func validExpression(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c == '+' || c == '-' || c == '*' || c == '/':
		case c == '.' || c == '(' || c == ')' || c == ' ':
		default:
			return false
		}
	}
	return true
}

// evalExpression parses and evaluates an arithmetic expression with the
// usual precedence by recursive descent.
func evalExpression(s string) (float64, error) {
	p := &exprParser{input: strings.ReplaceAll(s, " ", "")}
	v, err := p.parseAddSub()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected character at position %d", p.pos)
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) peek() byte {
	if p.pos < len(p.input) {
		return p.input[p.pos]
	}
	return 0
}

func (p *exprParser) parseAddSub() (float64, error) {
	v, err := p.parseMulDiv()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			v += rhs
		case '-':
			p.pos++
			rhs, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			v -= rhs
		default:
			return v, nil
		}
	}
}

func (p *exprParser) parseMulDiv() (float64, error) {
	v, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			v *= rhs
		case '/':
			p.pos++
			rhs, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			v /= rhs
		default:
			return v, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	if p.peek() == '+' {
		p.pos++
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *exprParser) parsePrimary() (float64, error) {
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseAddSub()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return v, nil
}

// ScreenshotStore writes base64-encoded screenshot payloads to disk.
type ScreenshotStore struct {
	Dir string
}

// Save decodes the payload and writes it as a timestamped PNG. Returns the
// saved file path.
func (s *ScreenshotStore) Save(toolName, b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode image data: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.png", toolName, time.Now().Format("20060102_150405.000"))
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
