// Package filter parses and evaluates SQL WHERE clauses against table rows.
//
// It implements the predicate subset analysts write when auditing a table:
// comparisons, boolean logic (AND/OR/NOT), IN lists, BETWEEN, LIKE,
// IS NULL checks and scalar functions such as lower() or to_date(). Evaluation follows SQL three-valued logic, so a comparison
// involving NULL is neither true nor false and the row is not selected.
//
// Example usage:
//
//	expr, err := filter.Parse("promo_id = '1234' and qty > 0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ok, err := filter.Matches(expr, row)
package filter

import "fmt"

// Row is a single table row keyed by column name.
type Row = map[string]interface{}

// TokenType represents the type of a token
type TokenType int

const (
	// Keywords
	TokenAnd TokenType = iota
	TokenOr
	TokenNot
	TokenIn
	TokenBetween
	TokenLike
	TokenIs
	TokenNull

	// Operators
	TokenEqual        // = or ==
	TokenNotEqual     // != or <>
	TokenLess         // <
	TokenGreater      // >
	TokenLessEqual    // <=
	TokenGreaterEqual // >=

	// Punctuation
	TokenLParen
	TokenRParen
	TokenComma

	// Literals
	TokenString
	TokenNumber
	TokenIdent
	TokenBool

	// Special
	TokenEOF
	TokenError
)

var tokenNames = map[TokenType]string{
	TokenAnd:          "AND",
	TokenOr:           "OR",
	TokenNot:          "NOT",
	TokenIn:           "IN",
	TokenBetween:      "BETWEEN",
	TokenLike:         "LIKE",
	TokenIs:           "IS",
	TokenNull:         "NULL",
	TokenEqual:        "=",
	TokenNotEqual:     "!=",
	TokenLess:         "<",
	TokenGreater:      ">",
	TokenLessEqual:    "<=",
	TokenGreaterEqual: ">=",
	TokenLParen:       "(",
	TokenRParen:       ")",
	TokenComma:        ",",
	TokenString:       "string",
	TokenNumber:       "number",
	TokenIdent:        "identifier",
	TokenBool:         "boolean",
	TokenEOF:          "end of input",
	TokenError:        "invalid token",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token represents a lexical token
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Truth is the result of evaluating a predicate under SQL three-valued logic.
type Truth int8

const (
	False Truth = iota
	True
	Unknown
)

func (t Truth) String() string {
	switch t {
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "UNKNOWN"
	}
}

func truthOf(b bool) Truth {
	if b {
		return True
	}
	return False
}

func (t Truth) not() Truth {
	switch t {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

// Expression is a boolean predicate of the WHERE clause.
type Expression interface {
	// Eval evaluates the predicate against a row.
	Eval(row Row) (Truth, error)
	String() string
}

// Operand is a value-producing term: a column reference, a literal or a
// function call.
type Operand interface {
	Value(row Row) (interface{}, error)
	String() string
}

// ColumnRef references a column of the row being evaluated.
type ColumnRef struct {
	Name string
}

// Literal is a constant value. A nil Val is SQL NULL.
type Literal struct {
	Val interface{}
}

// BinaryExpr represents a binary expression (AND/OR)
type BinaryExpr struct {
	Left     Expression
	Operator TokenType // TokenAnd or TokenOr
	Right    Expression
}

// NotExpr negates a predicate.
type NotExpr struct {
	Expr Expression
}

// ComparisonExpr represents a comparison between two operands.
type ComparisonExpr struct {
	Left     Operand
	Operator TokenType
	Right    Operand
}

// InExpr represents "x [NOT] IN (a, b, ...)".
type InExpr struct {
	Operand Operand
	Values  []Operand
	Negate  bool
}

// BetweenExpr represents "x [NOT] BETWEEN low AND high".
type BetweenExpr struct {
	Operand Operand
	Low     Operand
	High    Operand
	Negate  bool
}

// LikeExpr represents "x [NOT] LIKE 'pattern'".
type LikeExpr struct {
	Operand Operand
	Pattern string
	Negate  bool
	matcher *likeMatcher
}

// NullCheckExpr represents "x IS [NOT] NULL".
type NullCheckExpr struct {
	Operand Operand
	Negate  bool
}

// PredicateExpr uses a bare operand as a predicate, e.g. "where active".
type PredicateExpr struct {
	Operand Operand
}
