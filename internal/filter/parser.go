package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser parses WHERE clauses into an expression tree
type Parser struct {
	tokens       []Token
	pos          int
	depthCounter *ExpressionDepthCounter
}

// NewParser creates a new parser
func NewParser(tokens []Token) *Parser {
	return &Parser{
		tokens:       tokens,
		depthCounter: NewExpressionDepthCounter(),
	}
}

func (p *Parser) current() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *Parser) advance() {
	p.pos++
}

// expect checks if current token matches expected type and advances
func (p *Parser) expect(tokType TokenType) error {
	if tok := p.current(); tok.Type != tokType {
		return p.errorf("expected %v, got %s", tokType, describe(tok))
	}
	p.advance()
	return nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return &SyntaxError{Pos: p.current().Pos, Msg: fmt.Sprintf(format, args...)}
}

// SyntaxError reports a malformed filter and where it went wrong.
type SyntaxError struct {
	Pos int
	Msg string
	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

func describe(tok Token) string {
	switch tok.Type {
	case TokenEOF:
		return "end of input"
	case TokenError:
		return fmt.Sprintf("invalid input %q", tok.Value)
	default:
		return fmt.Sprintf("%v %q", tok.Type, tok.Value)
	}
}

// Parse parses a WHERE clause. The leading WHERE keyword is optional and an
// empty clause selects every row.
func Parse(clause string) (Expression, error) {
	if err := ValidateQuery(clause); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(clause)
	if len(trimmed) >= 5 && strings.EqualFold(trimmed[:5], "where") &&
		(len(trimmed) == 5 || !isIdentChar(rune(trimmed[5]))) {
		trimmed = trimmed[5:]
	}
	if strings.TrimSpace(trimmed) == "" {
		return &Literal{Val: true}, nil
	}

	tokens := Tokenize(trimmed)
	if err := ValidateTokens(tokens); err != nil {
		return nil, err
	}

	parser := NewParser(tokens)
	expr, err := parser.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := parser.current(); tok.Type != TokenEOF {
		return nil, parser.errorf("unexpected %s", describe(tok))
	}
	return expr, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(clause string) Expression {
	expr, err := Parse(clause)
	if err != nil {
		panic(err)
	}
	return expr
}

func isIdentChar(r rune) bool {
	return r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// parseOr parses OR expressions (lowest precedence)
func (p *Parser) parseOr() (Expression, error) {
	if err := p.depthCounter.Enter(); err != nil {
		return nil, err
	}
	defer p.depthCounter.Exit()

	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.current().Type == TokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Operator: TokenOr, Right: right}
	}

	return left, nil
}

// parseAnd parses AND expressions (higher precedence than OR)
func (p *Parser) parseAnd() (Expression, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.current().Type == TokenAnd {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Operator: TokenAnd, Right: right}
	}

	return left, nil
}

func (p *Parser) parseNot() (Expression, error) {
	if p.current().Type != TokenNot {
		return p.parsePredicate()
	}
	if err := p.depthCounter.Enter(); err != nil {
		return nil, err
	}
	defer p.depthCounter.Exit()

	p.advance()
	inner, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return &NotExpr{Expr: inner}, nil
}

// parsePredicate parses a parenthesized expression or an operand followed by
// an optional comparison, IN, BETWEEN, LIKE or IS NULL suffix.
func (p *Parser) parsePredicate() (Expression, error) {
	if p.current().Type == TokenLParen {
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return expr, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	switch op := p.current().Type; op {
	case TokenEqual, TokenNotEqual, TokenLess, TokenGreater, TokenLessEqual, TokenGreaterEqual:
		p.advance()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &ComparisonExpr{Left: left, Operator: op, Right: right}, nil
	case TokenIs:
		p.advance()
		negate := false
		if p.current().Type == TokenNot {
			negate = true
			p.advance()
		}
		if err := p.expect(TokenNull); err != nil {
			return nil, err
		}
		return &NullCheckExpr{Operand: left, Negate: negate}, nil
	case TokenNot:
		p.advance()
		return p.parseNegatable(left, true)
	case TokenIn, TokenBetween, TokenLike:
		return p.parseNegatable(left, false)
	}

	return &PredicateExpr{Operand: left}, nil
}

func (p *Parser) parseNegatable(left Operand, negate bool) (Expression, error) {
	switch p.current().Type {
	case TokenIn:
		p.advance()
		if err := p.expect(TokenLParen); err != nil {
			return nil, err
		}
		var values []Operand
		for {
			value, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			values = append(values, value)
			if p.current().Type != TokenComma {
				break
			}
			p.advance()
		}
		if err := p.expect(TokenRParen); err != nil {
			return nil, err
		}
		return &InExpr{Operand: left, Values: values, Negate: negate}, nil
	case TokenBetween:
		p.advance()
		low, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokenAnd); err != nil {
			return nil, err
		}
		high, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Operand: left, Low: low, High: high, Negate: negate}, nil
	case TokenLike:
		p.advance()
		tok := p.current()
		if tok.Type != TokenString {
			return nil, p.errorf("LIKE requires a string pattern, got %s", describe(tok))
		}
		p.advance()
		return &LikeExpr{Operand: left, Pattern: tok.Value, Negate: negate, matcher: compileLike(tok.Value)}, nil
	default:
		return nil, p.errorf("expected IN, BETWEEN or LIKE after NOT, got %s", describe(p.current()))
	}
}

// parseOperand parses a column reference, a function call or a literal value
func (p *Parser) parseOperand() (Operand, error) {
	tok := p.current()
	switch tok.Type {
	case TokenIdent:
		if err := ValidateColumnName(tok.Value); err != nil {
			return nil, err
		}
		p.advance()
		if p.current().Type == TokenLParen {
			return p.parseCall(tok)
		}
		return &ColumnRef{Name: tok.Value}, nil
	case TokenString:
		p.advance()
		return &Literal{Val: tok.Value}, nil
	case TokenNumber:
		p.advance()
		if intVal, err := strconv.ParseInt(tok.Value, 10, 64); err == nil {
			return &Literal{Val: intVal}, nil
		}
		floatVal, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: tok.Pos, Msg: fmt.Sprintf("invalid number: %s", tok.Value)}
		}
		return &Literal{Val: floatVal}, nil
	case TokenBool:
		p.advance()
		return &Literal{Val: strings.EqualFold(tok.Value, "true")}, nil
	case TokenNull:
		p.advance()
		return &Literal{Val: nil}, nil
	default:
		return nil, p.errorf("expected column or value, got %s", describe(tok))
	}
}

// parseCall parses the argument list of a function call whose name has
// already been consumed.
func (p *Parser) parseCall(name Token) (Operand, error) {
	if err := p.depthCounter.Enter(); err != nil {
		return nil, err
	}
	defer p.depthCounter.Exit()

	p.advance()
	var args []Operand
	if p.current().Type != TokenRParen {
		for {
			arg, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.current().Type != TokenComma {
				break
			}
			p.advance()
		}
	}
	if err := p.expect(TokenRParen); err != nil {
		return nil, err
	}
	call, err := NewFunctionCall(name.Value, args)
	if err != nil {
		return nil, &SyntaxError{Pos: name.Pos, Msg: err.Error(), Err: err}
	}
	return call, nil
}
