package filter

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownColumn is returned when a filter references a column the row
// does not have.
var ErrUnknownColumn = errors.New("unknown column")

// ErrTypeMismatch is returned when two values cannot be compared.
var ErrTypeMismatch = errors.New("type mismatch")

// Value returns the column value. A column absent from the row is an error,
// matching how a SQL engine rejects an unresolved column.
func (c *ColumnRef) Value(row Row) (interface{}, error) {
	if v, ok := row[c.Name]; ok {
		return v, nil
	}
	if strings.Contains(c.Name, ".") {
		if v, ok := lookupNested(row, strings.Split(c.Name, ".")); ok {
			return v, nil
		}
	}
	for k, v := range row {
		if strings.EqualFold(k, c.Name) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, c.Name)
}

func lookupNested(row Row, path []string) (interface{}, bool) {
	var cur interface{} = row
	for _, part := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (c *ColumnRef) String() string { return c.Name }

// Value returns the literal.
func (l *Literal) Value(Row) (interface{}, error) { return l.Val, nil }

func (l *Literal) String() string {
	switch v := l.Val.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Eval treats the literal as a predicate.
func (l *Literal) Eval(Row) (Truth, error) {
	return asTruth(l.Val)
}

func asTruth(v interface{}) (Truth, error) {
	switch val := v.(type) {
	case nil:
		return Unknown, nil
	case bool:
		return truthOf(val), nil
	default:
		return False, fmt.Errorf("%w: %T is not a boolean", ErrTypeMismatch, v)
	}
}

// Eval evaluates a binary expression
func (b *BinaryExpr) Eval(row Row) (Truth, error) {
	left, err := b.Left.Eval(row)
	if err != nil {
		return False, err
	}

	// Both sides are always evaluated so unresolved columns surface on every row.
	right, err := b.Right.Eval(row)
	if err != nil {
		return False, err
	}

	switch b.Operator {
	case TokenAnd:
		if left == False || right == False {
			return False, nil
		}
		if left == True && right == True {
			return True, nil
		}
		return Unknown, nil
	case TokenOr:
		if left == True || right == True {
			return True, nil
		}
		if left == False && right == False {
			return False, nil
		}
		return Unknown, nil
	default:
		return False, fmt.Errorf("unsupported boolean operator %v", b.Operator)
	}
}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %v %s)", b.Left, b.Operator, b.Right)
}

// Eval negates the inner predicate.
func (n *NotExpr) Eval(row Row) (Truth, error) {
	t, err := n.Expr.Eval(row)
	if err != nil {
		return False, err
	}
	return t.not(), nil
}

func (n *NotExpr) String() string { return fmt.Sprintf("NOT %s", n.Expr) }

// Eval evaluates a comparison expression
func (c *ComparisonExpr) Eval(row Row) (Truth, error) {
	left, err := c.Left.Value(row)
	if err != nil {
		return False, err
	}
	right, err := c.Right.Value(row)
	if err != nil {
		return False, err
	}
	return compare(left, c.Operator, right)
}

func (c *ComparisonExpr) String() string {
	return fmt.Sprintf("%s %v %s", c.Left, c.Operator, c.Right)
}

// Eval evaluates IN with SQL semantics: a NULL operand, or no match while the
// list contains NULL, is unknown.
func (e *InExpr) Eval(row Row) (Truth, error) {
	value, err := e.Operand.Value(row)
	if err != nil {
		return False, err
	}
	result := False
	for _, candidate := range e.Values {
		v, err := candidate.Value(row)
		if err != nil {
			return False, err
		}
		t, err := compare(value, TokenEqual, v)
		if err != nil {
			return False, err
		}
		if t == True {
			result = True
			break
		}
		if t == Unknown {
			result = Unknown
		}
	}
	if e.Negate {
		return result.not(), nil
	}
	return result, nil
}

func (e *InExpr) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = v.String()
	}
	not := ""
	if e.Negate {
		not = "NOT "
	}
	return fmt.Sprintf("%s %sIN (%s)", e.Operand, not, strings.Join(parts, ", "))
}

// Eval evaluates low <= x AND x <= high.
func (e *BetweenExpr) Eval(row Row) (Truth, error) {
	value, err := e.Operand.Value(row)
	if err != nil {
		return False, err
	}
	low, err := e.Low.Value(row)
	if err != nil {
		return False, err
	}
	high, err := e.High.Value(row)
	if err != nil {
		return False, err
	}
	lower, err := compare(value, TokenGreaterEqual, low)
	if err != nil {
		return False, err
	}
	upper, err := compare(value, TokenLessEqual, high)
	if err != nil {
		return False, err
	}
	result := Unknown
	switch {
	case lower == False || upper == False:
		result = False
	case lower == True && upper == True:
		result = True
	}
	if e.Negate {
		return result.not(), nil
	}
	return result, nil
}

func (e *BetweenExpr) String() string {
	not := ""
	if e.Negate {
		not = "NOT "
	}
	return fmt.Sprintf("%s %sBETWEEN %s AND %s", e.Operand, not, e.Low, e.High)
}

// Eval matches the operand against the LIKE pattern.
func (e *LikeExpr) Eval(row Row) (Truth, error) {
	value, err := e.Operand.Value(row)
	if err != nil {
		return False, err
	}
	if value == nil {
		return Unknown, nil
	}
	s, ok := stringValue(value)
	if !ok {
		s = fmt.Sprintf("%v", value)
	}
	if e.matcher == nil {
		e.matcher = compileLike(e.Pattern)
	}
	result := truthOf(e.matcher.match(s))
	if e.Negate {
		return result.not(), nil
	}
	return result, nil
}

func (e *LikeExpr) String() string {
	not := ""
	if e.Negate {
		not = "NOT "
	}
	return fmt.Sprintf("%s %sLIKE %s", e.Operand, not, (&Literal{Val: e.Pattern}).String())
}

// Eval checks the operand for NULL. It is never unknown.
func (e *NullCheckExpr) Eval(row Row) (Truth, error) {
	value, err := e.Operand.Value(row)
	if err != nil {
		return False, err
	}
	return truthOf((value == nil) != e.Negate), nil
}

func (e *NullCheckExpr) String() string {
	if e.Negate {
		return fmt.Sprintf("%s IS NOT NULL", e.Operand)
	}
	return fmt.Sprintf("%s IS NULL", e.Operand)
}

// Eval requires the operand to be a boolean.
func (e *PredicateExpr) Eval(row Row) (Truth, error) {
	value, err := e.Operand.Value(row)
	if err != nil {
		return False, err
	}
	return asTruth(value)
}

func (e *PredicateExpr) String() string { return e.Operand.String() }

// likeMatcher implements SQL LIKE, where % matches any run of characters
// and _ matches exactly one.
type likeMatcher struct {
	re *regexp.Regexp
}

func compileLike(pattern string) *likeMatcher {
	var b strings.Builder
	b.WriteString("(?s)^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return &likeMatcher{re: regexp.MustCompile(b.String())}
}

func (m *likeMatcher) match(s string) bool {
	return m.re.MatchString(s)
}

// compare compares two values using the given operator. NULL on either side
// yields Unknown.
func compare(left interface{}, operator TokenType, right interface{}) (Truth, error) {
	if left == nil || right == nil {
		return Unknown, nil
	}
	cmp, err := compareValues(left, right)
	if err != nil {
		return False, err
	}
	switch operator {
	case TokenEqual:
		return truthOf(cmp == 0), nil
	case TokenNotEqual:
		return truthOf(cmp != 0), nil
	case TokenLess:
		return truthOf(cmp < 0), nil
	case TokenGreater:
		return truthOf(cmp > 0), nil
	case TokenLessEqual:
		return truthOf(cmp <= 0), nil
	case TokenGreaterEqual:
		return truthOf(cmp >= 0), nil
	default:
		return False, fmt.Errorf("unsupported comparison operator %v", operator)
	}
}

// Compare orders two non-nil values with the coercions comparisons use.
func Compare(a, b interface{}) (int, error) {
	return compareValues(a, b)
}

// compareValues orders two non-nil values. Numbers compare numerically, and a
// string compared with a number or a time is cast first, the way Spark SQL
// coerces "promo_id = '1234'" against an integer column.
func compareValues(left, right interface{}) (int, error) {
	if lt, ok := timeValue(left); ok {
		if rt, ok := asTime(right); ok {
			return compareTimes(lt, rt), nil
		}
	}
	if rt, ok := timeValue(right); ok {
		if lt, ok := asTime(left); ok {
			return compareTimes(lt, rt), nil
		}
	}

	leftNum, leftIsNum := toFloat64(left)
	rightNum, rightIsNum := toFloat64(right)
	if leftIsNum && rightIsNum {
		if li, ok := toInt64(left); ok {
			if ri, ok := toInt64(right); ok {
				return compareOrdered(li, ri), nil
			}
		}
		return compareFloats(leftNum, rightNum), nil
	}

	leftStr, leftIsStr := stringValue(left)
	rightStr, rightIsStr := stringValue(right)
	if leftIsStr && rightIsStr {
		return strings.Compare(leftStr, rightStr), nil
	}
	if leftIsNum && rightIsStr {
		if f, err := strconv.ParseFloat(strings.TrimSpace(rightStr), 64); err == nil {
			return compareFloats(leftNum, f), nil
		}
	}
	if leftIsStr && rightIsNum {
		if f, err := strconv.ParseFloat(strings.TrimSpace(leftStr), 64); err == nil {
			return compareFloats(f, rightNum), nil
		}
	}

	leftBool, leftIsBool := left.(bool)
	rightBool, rightIsBool := right.(bool)
	if leftIsBool && rightIsBool {
		switch {
		case leftBool == rightBool:
			return 0, nil
		case !leftBool:
			return -1, nil
		default:
			return 1, nil
		}
	}
	if leftIsBool && rightIsStr {
		if b, err := strconv.ParseBool(rightStr); err == nil {
			return compareValues(leftBool, b)
		}
	}
	if leftIsStr && rightIsBool {
		if b, err := strconv.ParseBool(leftStr); err == nil {
			return compareValues(b, rightBool)
		}
	}

	return 0, fmt.Errorf("%w: cannot compare %T with %T", ErrTypeMismatch, left, right)
}

func compareOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareFloats(a, b float64) int {
	if math.IsNaN(a) || math.IsNaN(b) {
		// NaN sorts above every other value, as in Spark.
		switch {
		case math.IsNaN(a) && math.IsNaN(b):
			return 0
		case math.IsNaN(a):
			return 1
		default:
			return -1
		}
	}
	return compareOrdered(a, b)
}

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	default:
		return 0, false
	}
}

func stringValue(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func timeValue(v interface{}) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func asTime(v interface{}) (time.Time, bool) {
	if t, ok := timeValue(v); ok {
		return t, true
	}
	s, ok := stringValue(v)
	if !ok {
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Matches reports whether the row satisfies the expression. Unknown counts as
// not matching, as in a WHERE clause.
func Matches(expr Expression, row Row) (bool, error) {
	if expr == nil {
		return true, nil
	}
	t, err := expr.Eval(row)
	if err != nil {
		return false, err
	}
	return t == True, nil
}

// Columns returns the distinct column names referenced by the expression,
// sorted.
func Columns(expr Expression) []string {
	seen := make(map[string]bool)
	walkOperands(expr, func(op Operand) {
		if col, ok := op.(*ColumnRef); ok {
			seen[col.Name] = true
		}
	})
	columns := make([]string, 0, len(seen))
	for name := range seen {
		columns = append(columns, name)
	}
	sort.Strings(columns)
	return columns
}

// IsConstant reports whether the expression references no columns.
func IsConstant(expr Expression) bool {
	return len(Columns(expr)) == 0
}

// AlwaysTrue reports whether the expression selects every row regardless of
// content, as the default "1=1" filter does.
func AlwaysTrue(expr Expression) bool {
	if expr == nil {
		return true
	}
	if !IsConstant(expr) {
		return false
	}
	t, err := expr.Eval(Row{})
	return err == nil && t == True
}

func walkOperands(expr Expression, fn func(Operand)) {
	switch e := expr.(type) {
	case *BinaryExpr:
		walkOperands(e.Left, fn)
		walkOperands(e.Right, fn)
	case *NotExpr:
		walkOperands(e.Expr, fn)
	case *ComparisonExpr:
		visitOperand(e.Left, fn)
		visitOperand(e.Right, fn)
	case *InExpr:
		visitOperand(e.Operand, fn)
		for _, v := range e.Values {
			visitOperand(v, fn)
		}
	case *BetweenExpr:
		visitOperand(e.Operand, fn)
		visitOperand(e.Low, fn)
		visitOperand(e.High, fn)
	case *LikeExpr:
		visitOperand(e.Operand, fn)
	case *NullCheckExpr:
		visitOperand(e.Operand, fn)
	case *PredicateExpr:
		visitOperand(e.Operand, fn)
	case *Literal:
		visitOperand(e, fn)
	}
}

// visitOperand calls fn for op and, for function calls, every argument.
func visitOperand(op Operand, fn func(Operand)) {
	fn(op)
	if call, ok := op.(*FunctionCall); ok {
		for _, arg := range call.Args {
			visitOperand(arg, fn)
		}
	}
}
