package filter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ErrUnknownFunction is returned when a filter calls a function that is not
// registered.
var ErrUnknownFunction = errors.New("unknown function")

// Function is a scalar function callable from a filter, such as
// lower(store) or year(order_date).
type Function interface {
	// Name returns the function name. Lookup is case-insensitive.
	Name() string
	// MinArity returns the minimum number of arguments.
	MinArity() int
	// MaxArity returns the maximum number of arguments, -1 for unlimited.
	MaxArity() int
	// Evaluate applies the function to evaluated arguments.
	Evaluate(args []interface{}) (interface{}, error)
}

// FunctionRegistry maps names to functions.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{functions: make(map[string]Function)}
}

// Register adds f, replacing any function of the same name.
func (r *FunctionRegistry) Register(f Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[strings.ToUpper(f.Name())] = f
}

// Get looks a function up by name.
func (r *FunctionRegistry) Get(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.functions[strings.ToUpper(name)]
	return f, ok
}

// Functions is the registry consulted by Parse.
var Functions = NewFunctionRegistry()

// RegisterFunction makes f callable from filters.
func RegisterFunction(f Function) {
	Functions.Register(f)
}

// scalar adapts a plain Go func to Function. Unless nullable is set, a NULL
// argument makes the result NULL without calling eval.
type scalar struct {
	name     string
	min, max int
	nullable bool
	eval     func(args []interface{}) (interface{}, error)
}

func (s *scalar) Name() string  { return s.name }
func (s *scalar) MinArity() int { return s.min }
func (s *scalar) MaxArity() int { return s.max }

func (s *scalar) Evaluate(args []interface{}) (interface{}, error) {
	if !s.nullable {
		for _, a := range args {
			if a == nil {
				return nil, nil
			}
		}
	}
	return s.eval(args)
}

func init() {
	for _, f := range []*scalar{
		{name: "UPPER", min: 1, max: 1, eval: stringFunc(strings.ToUpper)},
		{name: "LOWER", min: 1, max: 1, eval: stringFunc(strings.ToLower)},
		{name: "TRIM", min: 1, max: 1, eval: stringFunc(strings.TrimSpace)},
		{name: "LTRIM", min: 1, max: 1, eval: stringFunc(func(s string) string { return strings.TrimLeft(s, " \t\r\n") })},
		{name: "RTRIM", min: 1, max: 1, eval: stringFunc(func(s string) string { return strings.TrimRight(s, " \t\r\n") })},
		{name: "LENGTH", min: 1, max: 1, eval: evalLength},
		{name: "SUBSTRING", min: 2, max: 3, eval: evalSubstring},
		{name: "SUBSTR", min: 2, max: 3, eval: evalSubstring},
		{name: "CONCAT", min: 1, max: -1, eval: evalConcat},
		{name: "REPLACE", min: 3, max: 3, eval: evalReplace},
		{name: "ABS", min: 1, max: 1, eval: evalAbs},
		{name: "ROUND", min: 1, max: 2, eval: evalRound},
		{name: "FLOOR", min: 1, max: 1, eval: floatFunc(math.Floor)},
		{name: "CEIL", min: 1, max: 1, eval: floatFunc(math.Ceil)},
		{name: "COALESCE", min: 1, max: -1, nullable: true, eval: evalCoalesce},
		{name: "TO_DATE", min: 1, max: 1, eval: evalDate},
		{name: "DATE", min: 1, max: 1, eval: evalDate},
		{name: "YEAR", min: 1, max: 1, eval: datePart(func(t time.Time) int64 { return int64(t.Year()) })},
		{name: "MONTH", min: 1, max: 1, eval: datePart(func(t time.Time) int64 { return int64(t.Month()) })},
		{name: "DAY", min: 1, max: 1, eval: datePart(func(t time.Time) int64 { return int64(t.Day()) })},
	} {
		RegisterFunction(f)
	}
}

// FunctionCall applies a registered function to its argument operands.
type FunctionCall struct {
	Name string
	Args []Operand
	fn   Function
}

// NewFunctionCall resolves name and checks the argument count.
func NewFunctionCall(name string, args []Operand) (*FunctionCall, error) {
	fn, ok := Functions.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	if len(args) < fn.MinArity() || (fn.MaxArity() >= 0 && len(args) > fn.MaxArity()) {
		return nil, fmt.Errorf("%s expects %s, got %d", fn.Name(), arity(fn), len(args))
	}
	return &FunctionCall{Name: fn.Name(), Args: args, fn: fn}, nil
}

func arity(fn Function) string {
	switch {
	case fn.MaxArity() < 0:
		return fmt.Sprintf("at least %d arguments", fn.MinArity())
	case fn.MinArity() == fn.MaxArity():
		return fmt.Sprintf("%d arguments", fn.MinArity())
	default:
		return fmt.Sprintf("%d to %d arguments", fn.MinArity(), fn.MaxArity())
	}
}

// Value evaluates the arguments against row and applies the function.
func (c *FunctionCall) Value(row Row) (interface{}, error) {
	args := make([]interface{}, len(c.Args))
	for i, arg := range c.Args {
		v, err := arg.Value(row)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	v, err := c.fn.Evaluate(args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Name, err)
	}
	return v, nil
}

func (c *FunctionCall) String() string {
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = arg.String()
	}
	return c.Name + "(" + strings.Join(args, ", ") + ")"
}

func stringFunc(f func(string) string) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		return f(toString(args[0])), nil
	}
}

func floatFunc(f func(float64) float64) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		if i, ok := toInt64(args[0]); ok {
			return i, nil
		}
		x, err := numberArg(args[0])
		if err != nil {
			return nil, err
		}
		return f(x), nil
	}
}

func datePart(f func(time.Time) int64) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		t, ok := asTime(args[0])
		if !ok {
			return nil, nil
		}
		return f(t), nil
	}
}

// toString renders a value the way a cast to string would.
func toString(v interface{}) string {
	if s, ok := stringValue(v); ok {
		return s
	}
	if t, ok := timeValue(v); ok {
		return t.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func numberArg(v interface{}) (float64, error) {
	if f, ok := toFloat64(v); ok {
		return f, nil
	}
	if s, ok := stringValue(v); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, v)
}

func intArg(v interface{}) (int64, error) {
	if i, ok := toInt64(v); ok {
		return i, nil
	}
	f, err := numberArg(v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func evalLength(args []interface{}) (interface{}, error) {
	return int64(utf8.RuneCountInString(toString(args[0]))), nil
}

// evalSubstring follows SQL: positions are 1-based, and a negative start
// counts from the end.
func evalSubstring(args []interface{}) (interface{}, error) {
	runes := []rune(toString(args[0]))
	start, err := intArg(args[1])
	if err != nil {
		return nil, err
	}
	n := int64(len(runes))
	switch {
	case start > 0:
		start--
	case start < 0:
		start = n + start
		if start < 0 {
			start = 0
		}
	}
	if start > n {
		return "", nil
	}
	end := n
	if len(args) == 3 {
		length, err := intArg(args[2])
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return "", nil
		}
		if start+length < end {
			end = start + length
		}
	}
	return string(runes[start:end]), nil
}

func evalConcat(args []interface{}) (interface{}, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(toString(a))
	}
	return b.String(), nil
}

func evalReplace(args []interface{}) (interface{}, error) {
	return strings.ReplaceAll(toString(args[0]), toString(args[1]), toString(args[2])), nil
}

func evalAbs(args []interface{}) (interface{}, error) {
	if i, ok := toInt64(args[0]); ok {
		if i < 0 {
			return -i, nil
		}
		return i, nil
	}
	f, err := numberArg(args[0])
	if err != nil {
		return nil, err
	}
	return math.Abs(f), nil
}

// evalRound rounds half away from zero.
func evalRound(args []interface{}) (interface{}, error) {
	var scale int64
	if len(args) == 2 {
		s, err := intArg(args[1])
		if err != nil {
			return nil, err
		}
		scale = s
	}
	if i, ok := toInt64(args[0]); ok && scale >= 0 {
		return i, nil
	}
	f, err := numberArg(args[0])
	if err != nil {
		return nil, err
	}
	p := math.Pow(10, float64(scale))
	return math.Round(f*p) / p, nil
}

func evalCoalesce(args []interface{}) (interface{}, error) {
	for _, a := range args {
		if a != nil {
			return a, nil
		}
	}
	return nil, nil
}

// evalDate truncates a timestamp, or a string that parses as one, to its
// date. Unparseable strings give NULL.
func evalDate(args []interface{}) (interface{}, error) {
	t, ok := asTime(args[0])
	if !ok {
		return nil, nil
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()), nil
}
