package filter

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestMatches(t *testing.T) {
	row := Row{
		"promo_id": "1234",
		"qty":      int64(3),
		"price":    float64(9.99),
		"active":   true,
		"note":     nil,
		"region":   "eu-west",
		"day":      time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC),
		"code":     int32(1234),
		"address":  map[string]interface{}{"city": "Lisbon"},
	}

	tests := []struct {
		clause string
		want   bool
	}{
		{"1=1", true},
		{"1=0", false},
		{"promo_id = '1234'", true},
		{"promo_id = '9999'", false},
		{"promo_id != '9999'", true},
		{"qty > 2", true},
		{"qty >= 4", false},
		{"qty = 3.0", true},
		{"price < 10", true},
		{"price between 9 and 10", true},
		{"price not between 9 and 10", false},
		{"active", true},
		{"active = false", false},
		{"not active", false},
		{"note is null", true},
		{"note is not null", false},
		{"note = 'x'", false},
		{"not note = 'x'", false},
		{"note = 'x' or qty = 3", true},
		{"note = 'x' and qty = 3", false},
		{"region like 'eu%'", true},
		{"region like 'eu_west'", true},
		{"region like 'us%'", false},
		{"region not like 'us%'", true},
		{"region in ('us-east', 'eu-west')", true},
		{"region not in ('us-east', 'eu-west')", false},
		{"qty in (1, 2)", false},
		{"qty not in (1, null)", false},
		{"qty in (3, null)", true},
		{"code = '1234'", true},
		{"'1234' = code", true},
		{"day >= '2025-03-20'", true},
		{"day < '2025-03-21'", false},
		{"address.city = 'Lisbon'", true},
		{"QTY = 3", true},
		{"(qty = 1 or qty = 3) and active", true},
	}

	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			expr, err := Parse(tt.clause)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.clause, err)
			}
			got, err := Matches(expr, row)
			if err != nil {
				t.Fatalf("Matches() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.clause, got, tt.want)
			}
		})
	}
}

func TestMatches_Errors(t *testing.T) {
	row := Row{"qty": int64(3), "name": "alice"}

	tests := []struct {
		clause string
		want   error
	}{
		{"missing = 1", ErrUnknownColumn},
		{"qty = 1 or missing = 1", ErrUnknownColumn},
		{"name > true", ErrTypeMismatch},
		{"qty = 'abc'", ErrTypeMismatch},
		{"name", ErrTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			_, err := Matches(MustParse(tt.clause), row)
			if !errors.Is(err, tt.want) {
				t.Errorf("Matches(%q) error = %v, want %v", tt.clause, err, tt.want)
			}
		})
	}
}

func TestThreeValuedLogic(t *testing.T) {
	row := Row{"a": nil, "b": int64(1)}

	tests := []struct {
		clause string
		want   Truth
	}{
		{"a = 1", Unknown},
		{"not a = 1", Unknown},
		{"a = 1 and b = 1", Unknown},
		{"a = 1 and b = 2", False},
		{"a = 1 or b = 1", True},
		{"a = 1 or b = 2", Unknown},
		{"a is null", True},
		{"a like '%'", Unknown},
		{"a between 0 and 2", Unknown},
		{"b between null and 2", Unknown},
		{"b between null and 0", False},
	}

	for _, tt := range tests {
		t.Run(tt.clause, func(t *testing.T) {
			got, err := MustParse(tt.clause).Eval(row)
			if err != nil {
				t.Fatalf("Eval() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.clause, got, tt.want)
			}
		})
	}
}

func TestCompareValues_NaN(t *testing.T) {
	if got, _ := compareValues(math.NaN(), 1.0); got != 1 {
		t.Errorf("compareValues(NaN, 1) = %d, want 1", got)
	}
	if got, _ := compareValues(math.NaN(), math.NaN()); got != 0 {
		t.Errorf("compareValues(NaN, NaN) = %d, want 0", got)
	}
}
