/*
Package memory accounts for the bytes a kernel set needs in each memory category
and decides how many conditions fit in one batch.
*/
package memory

import (
	"fmt"
	"math"
	"strings"

	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type Category uint8

const (
	Global Category = iota
	Local
	Constant
	Alloc // largest single allocation
)

var Categories = []Category{Global, Local, Constant, Alloc}

func (c Category) String() string {
	switch c {
	case Local:
		return "local"
	case Constant:
		return "constant"
	case Alloc:
		return "alloc"
	default:
		return "global"
	}
}

func ParseCategory(name string) (c Category, err error) {
	for _, cc := range Categories {
		if strings.EqualFold(cc.String(), name) {
			return cc, nil
		}
	}
	err = errors.Wrapf(types.ErrConfiguration, "unknown memory category %q", name)
	return
}

// CategoryOf is the category an argument is accounted in
func CategoryOf(a types.Argument) Category {
	switch a.Scope {
	case types.Local:
		return Local
	case types.Constant:
		return Constant
	default:
		return Global
	}
}

// Limits in bytes per category; a missing category is unlimited
type Limits struct {
	Bytes            map[Category]int64
	LimitIntOverflow bool
}

func (l Limits) Limit(c Category) (limit int64, ok bool) {
	limit, ok = l.Bytes[c]
	return
}

// Size is a byte count kept symbolic in the batch size: Static + PerItem*N
type Size struct {
	Static, PerItem int64
}

func (s Size) Add(o Size) Size {
	return Size{s.Static + o.Static, s.PerItem + o.PerItem}
}

func (s Size) Eval(n int64) int64 {
	return s.Static + s.PerItem*n
}

func (s Size) String() string {
	switch {
	case s.PerItem == 0:
		return fmt.Sprintf("%d", s.Static)
	case s.Static == 0:
		return fmt.Sprintf("%d * %s", s.PerItem, types.BatchSymbol)
	}
	return fmt.Sprintf("%d + %d * %s", s.Static, s.PerItem, types.BatchSymbol)
}

func sizeOf(a types.Argument) (s Size, err error) {
	s.Static, s.PerItem, err = a.Bytes()
	return
}

type Budget struct {
	Limits Limits
	args   map[Category][]types.Argument
	used   map[Category]Size
	// element size of the largest working buffer, used by the int overflow cap
	allocElem int64
}

// ComputeLimits builds the budget of a categorised argument set
func ComputeLimits(limits Limits, args map[Category][]types.Argument) (b *Budget, err error) {
	b = &Budget{
		Limits: limits,
		args:   make(map[Category][]types.Argument),
	}
	for _, c := range []Category{Global, Local, Constant} {
		b.args[c] = append([]types.Argument{}, args[c]...)
	}
	if err = b.recompute(); err != nil {
		b = nil
	}
	return
}

func (b *Budget) recompute() (err error) {
	b.used = make(map[Category]Size)
	for _, c := range []Category{Global, Local, Constant} {
		var total Size
		for _, a := range b.args[c] {
			var s Size
			if s, err = sizeOf(a); err != nil {
				return
			}
			total = total.Add(s)
		}
		b.used[c] = total
	}
	// Global arrays are packed per type class, each class is one allocation
	var (
		isInt              = func(a types.Argument, _ int) bool { return a.DType.IsInteger() }
		ints               = lo.Filter(b.args[Global], isInt)
		floats             = lo.Reject(b.args[Global], isInt)
		intSize, floatSize Size
	)
	for _, a := range ints {
		s, _ := sizeOf(a)
		intSize = intSize.Add(s)
	}
	for _, a := range floats {
		s, _ := sizeOf(a)
		floatSize = floatSize.Add(s)
	}
	b.used[Alloc], b.allocElem = floatSize, types.Float64.Size()
	if intSize.PerItem > floatSize.PerItem ||
		(intSize.PerItem == floatSize.PerItem && intSize.Static > floatSize.Static) {
		wide := types.Widest(lo.Map(ints, func(a types.Argument, _ int) types.DataType { return a.DType })...)
		b.used[Alloc], b.allocElem = intSize, wide.Size()
	}
	return
}

func (b *Budget) Used(c Category) Size {
	return b.used[c]
}

func (b *Budget) Arguments(c Category) []types.Argument {
	return b.args[c]
}

func canFit(limit int64, u Size) int64 {
	switch {
	case u.Static > limit:
		return -1
	case u.PerItem == 0:
		return math.MaxInt64
	}
	return (limit - u.Static) / u.PerItem
}

// CanFit returns the largest batch size N with Static + PerItem*N <= limit for the
// category, -1 when even the static part does not fit and math.MaxInt64 when the
// category is unlimited or does not scale with N. The global verdict also honours the
// largest-allocation limit and, when requested, keeps every buffer index within a
// 32-bit int.
func (b *Budget) CanFit(c Category) (n int64) {
	n = math.MaxInt64
	if limit, ok := b.Limits.Limit(c); ok {
		n = canFit(limit, b.used[c])
	}
	if c != Global {
		return
	}
	if limit, ok := b.Limits.Limit(Alloc); ok {
		n = min(n, canFit(limit, b.used[Alloc]))
	}
	if b.Limits.LimitIntOverflow {
		n = min(n, canFit(math.MaxInt32*b.allocElem, b.used[Alloc]))
	}
	return
}

// Feasible reports whether every category fits at least one condition
func (b *Budget) Feasible() bool {
	for _, c := range Categories {
		if b.CanFit(c) < 1 {
			return false
		}
	}
	return true
}

func (b *Budget) String() string {
	var sb strings.Builder
	for _, c := range Categories {
		limit := "unlimited"
		if l, ok := b.Limits.Limit(c); ok {
			limit = fmt.Sprintf("%d", l)
		}
		fit := "unbounded"
		if n := b.CanFit(c); n != math.MaxInt64 {
			fit = fmt.Sprintf("%d", n)
		}
		fmt.Fprintf(&sb, "%-8s used %-24s limit %-12s fits %s\n", c, b.used[c], limit, fit)
	}
	return sb.String()
}
