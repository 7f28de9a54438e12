package utils

import (
	"strconv"
	"strings"
)

// Ranger enumerates N dimensional index ranges of an array with extents Dims and
// flattens them in row major (C) or column major (F) order.
type Ranger struct {
	Dims        []int
	ColumnMajor bool
}

func NewRanger(columnMajor bool, dims ...int) Ranger {
	return Ranger{Dims: dims, ColumnMajor: columnMajor}
}

// Points is the product of one range per axis, the last axis varying fastest
func (r Ranger) Points(ranges ...interface{}) (pts [][]int) {
	if len(ranges) != len(r.Dims) {
		return nil
	}
	pts = [][]int{{}}
	for ax, dim := range ranges {
		i1, i2 := ParseDim(dim, r.Dims[ax])
		var next [][]int
		for _, p := range pts {
			for i := i1; i < i2; i++ {
				next = append(next, append(append([]int{}, p...), i))
			}
		}
		pts = next
	}
	return
}

func (r Ranger) Offset(pt []int) (off int) {
	if r.ColumnMajor {
		for ax := len(pt) - 1; ax >= 0; ax-- {
			off = off*r.Dims[ax] + pt[ax]
		}
		return
	}
	for ax := range pt {
		off = off*r.Dims[ax] + pt[ax]
	}
	return
}

// Range returns the flat offsets of Points
func (r Ranger) Range(ranges ...interface{}) (I Index) {
	pts := r.Points(ranges...)
	I = NewIndex(len(pts))
	for i, p := range pts {
		I[i] = r.Offset(p)
	}
	return
}

/*
ParseDim converts one axis range to [i1, i2):

	":"   = full range, 0 to max
	"end" = last index
	"N"   = the single index N, as does the int N
	"2:N" = 2 to N
	":N"  = 0 to N
	"N:"  = N to max
*/
func ParseDim(dimI interface{}, max int) (i1, i2 int) {
	switch dim := dimI.(type) {
	case string:
		switch dim {
		case "end":
			i1, i2 = max-1, max
		case ":":
			i1, i2 = 0, max
		default:
			i1, i2 = parseRange(dim, max)
		}
	case int:
		i1, i2 = dim, dim+1
	}
	return
}

func parseRange(dim string, max int) (i1, i2 int) {
	var (
		splits = strings.Split(dim, ":")
		err    error
	)
	if i1, err = strconv.Atoi(strings.TrimSpace(splits[0])); err != nil {
		i1 = 0
	}
	if len(splits) == 1 {
		i2 = i1 + 1
		return
	}
	if i2, err = strconv.Atoi(strings.TrimSpace(splits[1])); err != nil {
		i2 = max
	}
	if i2 == i1 {
		i2 = i1 + 1
	}
	return
}
