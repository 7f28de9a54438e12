package types

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// BatchSymbol names the runtime number of conditions held by one working buffer
const BatchSymbol = "work_size"

// Dim is one extent of a Shape. A Dim is either a constant (Symbol == "") or a
// symbolic extent Symbol/Divisor, which is how the batch dimension looks after it
// has been split by a vector width.
type Dim struct {
	Size    int64
	Symbol  string
	Divisor int64
}

func Fixed(n int64) Dim {
	return Dim{Size: n}
}

func Symbolic(sym string) Dim {
	return Dim{Symbol: sym}
}

func (d Dim) IsSymbolic() bool {
	return d.Symbol != ""
}

func (d Dim) divisor() int64 {
	if d.Divisor < 1 {
		return 1
	}
	return d.Divisor
}

// Eval returns the extent for a concrete value of the symbol
func (d Dim) Eval(n int64) int64 {
	if !d.IsSymbolic() {
		return d.Size
	}
	return n / d.divisor()
}

func (d Dim) Equal(o Dim) bool {
	if d.IsSymbolic() != o.IsSymbolic() {
		return false
	}
	if d.IsSymbolic() {
		return d.Symbol == o.Symbol && d.divisor() == o.divisor()
	}
	return d.Size == o.Size
}

func (d Dim) String() string {
	switch {
	case !d.IsSymbolic():
		return fmt.Sprintf("%d", d.Size)
	case d.divisor() == 1:
		return d.Symbol
	default:
		return fmt.Sprintf("(%s / %d)", d.Symbol, d.divisor())
	}
}

type Shape []Dim

func NewShape(dims ...interface{}) (s Shape) {
	s = make(Shape, len(dims))
	for i, d := range dims {
		switch dd := d.(type) {
		case int:
			s[i] = Fixed(int64(dd))
		case int64:
			s[i] = Fixed(dd)
		case string:
			s[i] = Symbolic(dd)
		case Dim:
			s[i] = dd
		default:
			panic(fmt.Errorf("unsupported dimension %v", d))
		}
	}
	return
}

func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if !s[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Symbol returns the symbol of the batch-scaled dimension, "" for a static shape
func (s Shape) Symbol() (sym string) {
	for _, d := range s {
		if d.IsSymbolic() {
			return d.Symbol
		}
	}
	return
}

// Elements splits the element count of the shape into a static part and a part
// scaled by the symbolic dimension: count = static + perItem*symbol. Exactly one of
// the two is non-zero. A symbolic divisor must divide the product of the fixed
// dimensions, which holds for every split produced by the splitter.
func (s Shape) Elements() (static, perItem int64, err error) {
	var (
		prod    int64 = 1
		nSym    int
		divisor int64 = 1
		sym     string
	)
	for _, d := range s {
		if d.IsSymbolic() {
			nSym++
			if nSym > 1 && d.Symbol != sym {
				err = errors.Wrapf(ErrInternal, "shape %s has more than one symbolic dimension", s)
				return
			}
			sym = d.Symbol
			divisor *= d.divisor()
			continue
		}
		prod *= d.Size
	}
	if nSym > 1 {
		err = errors.Wrapf(ErrInternal, "shape %s repeats symbolic dimension %s", s, sym)
		return
	}
	if nSym == 0 {
		static = prod
		return
	}
	if prod%divisor != 0 {
		err = errors.Wrapf(ErrInternal, "shape %s: %d is not divisible by %d", s, prod, divisor)
		return
	}
	perItem = prod / divisor
	return
}
