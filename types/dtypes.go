package types

import (
	"fmt"
	"strings"
)

type DataType uint8

const (
	Float64 DataType = iota
	Int32
	Int64
)

func ParseDataType(name string) (dt DataType, err error) {
	switch strings.ToLower(name) {
	case "float64", "double", "f8":
		dt = Float64
	case "int32", "int", "i4":
		dt = Int32
	case "int64", "long", "i8":
		dt = Int64
	default:
		err = fmt.Errorf("unknown data type %q", name)
	}
	return
}

func (dt DataType) String() string {
	switch dt {
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return "float64"
	}
}

// Size is the element size in bytes
func (dt DataType) Size() int64 {
	if dt == Int32 {
		return 4
	}
	return 8
}

func (dt DataType) IsInteger() bool {
	return dt == Int32 || dt == Int64
}

// CName is the C spelling of the type, shared by every backend
func (dt DataType) CName() string {
	switch dt {
	case Int32:
		return "int"
	case Int64:
		return "long int"
	default:
		return "double"
	}
}

// Widest returns the largest integer type in dts, Int32 when there are none
func Widest(dts ...DataType) (wide DataType) {
	wide = Int32
	for _, dt := range dts {
		if dt.IsInteger() && dt.Size() > wide.Size() {
			wide = dt
		}
	}
	return
}

type Scope uint8

const (
	Global Scope = iota
	Local
	Constant
	Private
)

func ParseScope(name string) (s Scope, err error) {
	switch strings.ToLower(name) {
	case "", "global":
		s = Global
	case "local":
		s = Local
	case "constant", "const":
		s = Constant
	case "private":
		s = Private
	default:
		err = fmt.Errorf("unknown memory scope %q", name)
	}
	return
}

func (s Scope) String() string {
	switch s {
	case Local:
		return "local"
	case Constant:
		return "constant"
	case Private:
		return "private"
	default:
		return "global"
	}
}

// Order is the data ordering of multi-dimensional arrays
type Order string

const (
	RowMajor    Order = "C"
	ColumnMajor Order = "F"
)

func ParseOrder(name string) (o Order, err error) {
	switch strings.ToUpper(name) {
	case "", "C":
		o = RowMajor
	case "F":
		o = ColumnMajor
	default:
		err = fmt.Errorf("data order must be C or F, have %q", name)
	}
	return
}
