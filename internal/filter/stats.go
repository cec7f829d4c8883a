package filter

// Bounds summarizes the values of a data file per column. Any field may be
// missing, in which case nothing is concluded from it.
type Bounds struct {
	NumRecords    int64
	HasNumRecords bool
	Min           map[string]interface{}
	Max           map[string]interface{}
	NullCount     map[string]int64
}

// truncatedStringBound is the prefix length at which writers truncate string
// statistics. A max bound of this length may be below the true maximum.
const truncatedStringBound = 32

func (b *Bounds) min(col string) (interface{}, bool) {
	v, ok := b.Min[col]
	return v, ok && v != nil
}

func (b *Bounds) max(col string) (interface{}, bool) {
	v, ok := b.Max[col]
	if !ok || v == nil {
		return nil, false
	}
	if s, isStr := v.(string); isStr && len([]rune(s)) >= truncatedStringBound {
		return nil, false
	}
	return v, true
}

func (b *Bounds) allNull(col string) bool {
	n, ok := b.NullCount[col]
	return ok && b.HasNumRecords && n >= b.NumRecords && b.NumRecords > 0
}

func (b *Bounds) noNulls(col string) bool {
	n, ok := b.NullCount[col]
	return ok && n == 0
}

// MightMatch reports whether a file described by the bounds might contain a
// row satisfying expr. It returns false only when the statistics prove that
// no row matches, so a true result still requires scanning the file.
func MightMatch(expr Expression, b *Bounds) bool {
	if expr == nil || b == nil {
		return true
	}
	if b.HasNumRecords && b.NumRecords == 0 {
		return false
	}
	if IsConstant(expr) {
		t, err := expr.Eval(Row{})
		return err != nil || t == True
	}

	switch e := expr.(type) {
	case *BinaryExpr:
		switch e.Operator {
		case TokenAnd:
			return MightMatch(e.Left, b) && MightMatch(e.Right, b)
		case TokenOr:
			return MightMatch(e.Left, b) || MightMatch(e.Right, b)
		}
	case *ComparisonExpr:
		return comparisonMightMatch(e, b)
	case *InExpr:
		if e.Negate {
			return true
		}
		col, ok := e.Operand.(*ColumnRef)
		if !ok {
			return true
		}
		for _, v := range e.Values {
			lit, ok := v.(*Literal)
			if !ok {
				return true
			}
			if rangeMightContain(b, col.Name, TokenEqual, lit.Val) {
				return true
			}
		}
		return false
	case *BetweenExpr:
		if e.Negate {
			return true
		}
		col, ok := e.Operand.(*ColumnRef)
		low, lowOK := e.Low.(*Literal)
		high, highOK := e.High.(*Literal)
		if !ok || !lowOK || !highOK {
			return true
		}
		return rangeMightContain(b, col.Name, TokenGreaterEqual, low.Val) &&
			rangeMightContain(b, col.Name, TokenLessEqual, high.Val)
	case *NullCheckExpr:
		col, ok := e.Operand.(*ColumnRef)
		if !ok {
			return true
		}
		if e.Negate {
			return !b.allNull(col.Name)
		}
		return !b.noNulls(col.Name)
	}
	return true
}

func comparisonMightMatch(e *ComparisonExpr, b *Bounds) bool {
	col, colLeft := e.Left.(*ColumnRef)
	lit, litRight := e.Right.(*Literal)
	op := e.Operator
	if !colLeft || !litRight {
		var litLeft, colRight bool
		lit, litLeft = e.Left.(*Literal)
		col, colRight = e.Right.(*ColumnRef)
		if !litLeft || !colRight {
			return true
		}
		op = flip(op)
	}
	return rangeMightContain(b, col.Name, op, lit.Val)
}

// flip mirrors an operator so that "5 < x" can be read as "x > 5".
func flip(op TokenType) TokenType {
	switch op {
	case TokenLess:
		return TokenGreater
	case TokenGreater:
		return TokenLess
	case TokenLessEqual:
		return TokenGreaterEqual
	case TokenGreaterEqual:
		return TokenLessEqual
	default:
		return op
	}
}

// rangeMightContain reports whether "col op value" can hold for some value in
// [min, max] of the column.
func rangeMightContain(b *Bounds, col string, op TokenType, value interface{}) bool {
	if value == nil {
		return false
	}
	if b.allNull(col) {
		return false
	}
	lo, hasLo := b.min(col)
	hi, hasHi := b.max(col)

	cmpLo, errLo := 0, error(nil)
	if hasLo {
		cmpLo, errLo = compareValues(value, lo)
	}
	cmpHi, errHi := 0, error(nil)
	if hasHi {
		cmpHi, errHi = compareValues(value, hi)
	}
	loKnown := hasLo && errLo == nil
	hiKnown := hasHi && errHi == nil

	switch op {
	case TokenEqual:
		if loKnown && cmpLo < 0 {
			return false
		}
		if hiKnown && cmpHi > 0 {
			return false
		}
	case TokenNotEqual:
		if loKnown && hiKnown && cmpLo == 0 && cmpHi == 0 {
			return false
		}
	case TokenLess:
		if loKnown && cmpLo <= 0 {
			return false
		}
	case TokenLessEqual:
		if loKnown && cmpLo < 0 {
			return false
		}
	case TokenGreater:
		if hiKnown && cmpHi >= 0 {
			return false
		}
	case TokenGreaterEqual:
		if hiKnown && cmpHi > 0 {
			return false
		}
	}
	return true
}
