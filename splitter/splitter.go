/*
Package splitter applies a vector split to array layouts. With row-major data and
a vector width, axis 0 (the condition axis) is divided by the width and a vector
axis of that size is appended. With column-major data and a vector depth, the last
axis is divided by the depth and a vector axis is prepended. Every other
combination leaves layouts unchanged.
*/
package splitter

import (
	"fmt"
	"strings"

	"github.com/notargets/kernelgen/types"
	"github.com/notargets/kernelgen/utils"
	"github.com/pkg/errors"
)

type Splitter struct {
	Width, Depth int
	Order        types.Order
}

func New(width, depth int, order types.Order) (s *Splitter, err error) {
	switch {
	case width > 0 && depth > 0:
		err = errors.Wrapf(types.ErrConfiguration,
			"vector width (%d) and depth (%d) are mutually exclusive", width, depth)
		return
	case width < 0 || depth < 0:
		err = errors.Wrapf(types.ErrConfiguration, "negative vector width/depth %d/%d", width, depth)
		return
	case order != types.RowMajor && order != types.ColumnMajor:
		err = errors.Wrapf(types.ErrConfiguration, "unknown data order %q", order)
		return
	}
	s = &Splitter{Width: width, Depth: depth, Order: order}
	return
}

// VectorWidth is the lane count of whichever vectorization is active, 0 if none
func (s *Splitter) VectorWidth() int {
	if s.Width > 0 {
		return s.Width
	}
	return s.Depth
}

func (s *Splitter) IsWide() bool { return s.Width > 0 }
func (s *Splitter) IsDeep() bool { return s.Depth > 0 }

// Layout is the physical form of one logical shape
type Layout struct {
	Logical    types.Shape
	Shape      types.Shape
	VectorAxis int // physical axis holding the vector lanes, -1 if not split
	SplitAxis  int // logical axis divided by the vector width, -1 if not split
	Width      int64
	Order      types.Order
}

func (l Layout) Split() bool {
	return l.VectorAxis >= 0
}

func (s *Splitter) splits(shape types.Shape) bool {
	if len(shape) < 2 || !shape[0].IsSymbolic() {
		return false
	}
	switch {
	case s.Order == types.RowMajor && s.Width > 0:
		return true
	case s.Order == types.ColumnMajor && s.Depth > 0:
		return true
	}
	return false
}

// SplitShape returns the physical layout of a logical shape. Only arrays with at
// least two axes whose first axis is the condition (batch) axis are split.
func (s *Splitter) SplitShape(shape types.Shape) (l Layout) {
	l = Layout{
		Logical:    shape,
		Shape:      append(types.Shape{}, shape...),
		VectorAxis: -1,
		SplitAxis:  -1,
		Order:      s.Order,
	}
	if !s.splits(shape) {
		return
	}
	var (
		w    = int64(s.VectorWidth())
		last = len(shape) - 1
	)
	l.Width = w
	if s.Order == types.RowMajor {
		l.SplitAxis = 0
		l.VectorAxis = len(shape)
		l.Shape = append(types.Shape{divide(shape[0], w)}, shape[1:]...)
		l.Shape = append(l.Shape, types.Fixed(w))
		return
	}
	l.SplitAxis = last
	l.VectorAxis = 0
	l.Shape = append(types.Shape{types.Fixed(w)}, shape[:last]...)
	l.Shape = append(l.Shape, divide(shape[last], w))
	return
}

func divide(d types.Dim, w int64) types.Dim {
	if d.IsSymbolic() {
		div := d.Divisor
		if div < 1 {
			div = 1
		}
		return types.Dim{Symbol: d.Symbol, Divisor: div * w}
	}
	return types.Fixed((d.Size + w - 1) / w)
}

// SplitIndex maps a logical multi-index, one entry per logical axis, to the
// physical multi-index. Entries are either a utils.Index of concrete positions or a
// slice expression string (":", "2:5", see utils.ParseDim). Slices need no division
// and are passed through unchanged; indexing with slices is for inspection only.
func SplitIndex(l Layout, index []interface{}) (phys []interface{}, err error) {
	if len(index) != len(l.Logical) {
		err = errors.Wrapf(types.ErrInternal, "index rank %d does not match shape %s", len(index), l.Logical)
		return
	}
	if !l.Split() {
		phys = append(phys, index...)
		return
	}
	var (
		w        = int(l.Width)
		outer    interface{}
		lane     interface{}
		splitIdx = index[l.SplitAxis]
	)
	switch idx := splitIdx.(type) {
	case utils.Index:
		outer = idx.Apply(func(v int) int { return v / w })
		lane = idx.Apply(func(v int) int { return v % w })
	case string:
		outer, lane = idx, idx
	default:
		err = errors.Wrapf(types.ErrInternal, "unsupported index type %T", splitIdx)
		return
	}
	if l.VectorAxis == 0 {
		phys = append(phys, lane)
		phys = append(phys, index[:l.SplitAxis]...)
		phys = append(phys, outer)
		return
	}
	phys = append(phys, outer)
	phys = append(phys, index[1:]...)
	phys = append(phys, lane)
	return
}

// MergeIndex is the inverse of SplitIndex for concrete indices
func MergeIndex(l Layout, phys []interface{}) (index []interface{}, err error) {
	if len(phys) != len(l.Shape) {
		err = errors.Wrapf(types.ErrInternal, "index rank %d does not match shape %s", len(phys), l.Shape)
		return
	}
	if !l.Split() {
		index = append(index, phys...)
		return
	}
	var (
		w           = int(l.Width)
		outer, lane interface{}
		rest        []interface{}
	)
	if l.VectorAxis == 0 {
		lane, outer, rest = phys[0], phys[len(phys)-1], phys[1:len(phys)-1]
	} else {
		outer, lane, rest = phys[0], phys[len(phys)-1], phys[1:len(phys)-1]
	}
	var merged interface{}
	oi, ok1 := outer.(utils.Index)
	li, ok2 := lane.(utils.Index)
	switch {
	case ok1 && ok2:
		if len(oi) != len(li) {
			err = errors.Wrapf(types.ErrInternal, "split index lengths differ: %d, %d", len(oi), len(li))
			return
		}
		mi := utils.NewIndex(len(oi))
		for i := range oi {
			mi[i] = oi[i]*w + li[i]
		}
		merged = mi
	default:
		merged = outer
	}
	if l.VectorAxis == 0 {
		index = append(index, rest...)
		index = append(index, merged)
		return
	}
	index = append(index, merged)
	index = append(index, rest...)
	return
}

// Subscript maps logical subscript expressions to physical ones. A split axis
// indexed by a loop variable that was itself split into an outer/inner pair uses
// that pair directly; any other expression is divided symbolically.
func Subscript(l Layout, exprs []string, loopSplit map[string][2]string) (phys []string) {
	if !l.Split() {
		return append(phys, exprs...)
	}
	var (
		e           = strings.TrimSpace(exprs[l.SplitAxis])
		outer, lane string
	)
	if pair, ok := loopSplit[e]; ok {
		outer, lane = pair[0], pair[1]
	} else {
		outer = fmt.Sprintf("%s / %d", paren(e), l.Width)
		lane = fmt.Sprintf("%s %% %d", paren(e), l.Width)
	}
	if l.VectorAxis == 0 {
		phys = append(phys, lane)
		phys = append(phys, exprs[:l.SplitAxis]...)
		phys = append(phys, outer)
		return
	}
	phys = append(phys, outer)
	phys = append(phys, exprs[1:]...)
	phys = append(phys, lane)
	return
}

// Flatten turns a physical subscript into a linear offset in the layout's order
func Flatten(l Layout, phys []string) string {
	var (
		n   = len(phys)
		acc string
	)
	if n == 0 {
		return "0"
	}
	if l.Order == types.ColumnMajor {
		acc = strings.TrimSpace(phys[n-1])
		for k := n - 2; k >= 0; k-- {
			acc = fmt.Sprintf("%s + %s * %s", paren(phys[k]), l.Shape[k], paren(acc))
		}
		return acc
	}
	acc = strings.TrimSpace(phys[0])
	for k := 1; k < n; k++ {
		acc = fmt.Sprintf("%s * %s + %s", paren(acc), l.Shape[k], paren(phys[k]))
	}
	return acc
}

func paren(e string) string {
	e = strings.TrimSpace(e)
	if isAtom(e) {
		return e
	}
	return "(" + e + ")"
}

func isAtom(e string) bool {
	if e == "" {
		return false
	}
	for _, c := range e {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

// Offsets returns the flat physical offsets of the logical points selected by
// ranges (one per logical axis, see utils.ParseDim), with n conditions. Points are
// enumerated with the last logical axis varying fastest.
func (l Layout) Offsets(n int64, ranges ...interface{}) (offs utils.Index, err error) {
	var (
		logical = make([]int, len(l.Logical))
		phys    = make([]int, len(l.Shape))
	)
	for i, d := range l.Logical {
		logical[i] = int(d.Eval(n))
	}
	for i, d := range l.Shape {
		phys[i] = int(d.Eval(n))
	}
	if l.Split() && l.SplitAxis == 0 && n%l.Width != 0 {
		err = errors.Wrapf(types.ErrConfiguration, "%d conditions is not a multiple of vector width %d", n, l.Width)
		return
	}
	var (
		pts    = utils.NewRanger(false, logical...).Points(ranges...)
		ranger = utils.NewRanger(l.Order == types.ColumnMajor, phys...)
	)
	if pts == nil {
		err = errors.Wrapf(types.ErrInternal, "index rank %d does not match shape %s", len(ranges), l.Logical)
		return
	}
	offs = utils.NewIndex(len(pts))
	for i, pt := range pts {
		index := make([]interface{}, len(pt))
		for ax, v := range pt {
			index[ax] = utils.Index{v}
		}
		var p []interface{}
		if p, err = SplitIndex(l, index); err != nil {
			return
		}
		flat := make([]int, len(p))
		for ax := range p {
			flat[ax] = p[ax].(utils.Index)[0]
		}
		offs[i] = ranger.Offset(flat)
	}
	return
}
