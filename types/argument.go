package types

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Argument is a named array or scalar used by a kernel. Temporaries use the same
// record: a constant temporary carries its initializer data in Init.
type Argument struct {
	Name     string
	DType    DataType
	Shape    Shape
	Scope    Scope
	IsValue  bool
	ReadOnly bool
	Atomic   bool
	Init     mat.Matrix
}

func NewArray(name string, dt DataType, scope Scope, dims ...interface{}) Argument {
	return Argument{
		Name:  name,
		DType: dt,
		Shape: NewShape(dims...),
		Scope: scope,
	}
}

func NewValue(name string, dt DataType) Argument {
	return Argument{
		Name:    name,
		DType:   dt,
		Scope:   Private,
		IsValue: true,
	}
}

// NewConstant builds a constant temporary from its initializer values
func NewConstant(name string, dt DataType, data []float64) Argument {
	return Argument{
		Name:     name,
		DType:    dt,
		Shape:    NewShape(len(data)),
		Scope:    Constant,
		ReadOnly: true,
		Init:     mat.NewVecDense(len(data), data),
	}
}

// Bytes returns the byte size split into its static and batch-scaled parts
func (a Argument) Bytes() (static, perItem int64, err error) {
	if a.IsValue {
		static = a.DType.Size()
		return
	}
	if static, perItem, err = a.Shape.Elements(); err != nil {
		err = errors.Wrapf(err, "argument %s", a.Name)
		return
	}
	static *= a.DType.Size()
	perItem *= a.DType.Size()
	return
}

// Equal compares everything that defines an argument structurally; ReadOnly is
// derived per merge and not compared.
func (a Argument) Equal(b Argument) bool {
	return a.equalIgnoringAtomic(b) && a.Atomic == b.Atomic
}

func (a Argument) equalIgnoringAtomic(b Argument) bool {
	if a.Name != b.Name || a.DType != b.DType || a.Scope != b.Scope || a.IsValue != b.IsValue {
		return false
	}
	if !a.Shape.Equal(b.Shape) {
		return false
	}
	switch {
	case a.Init == nil && b.Init == nil:
		return true
	case a.Init == nil || b.Init == nil:
		return false
	}
	ra, ca := a.Init.Dims()
	rb, cb := b.Init.Dims()
	if ra != rb || ca != cb {
		return false
	}
	return mat.Equal(a.Init, b.Init)
}

// Reconcile reduces the definitions of one argument name to a single definition.
// The only tolerated divergence is atomic vs non-atomic, resolved to the atomic
// variant. The owners slice names the kernel behind each definition and is only
// used in the error message.
func Reconcile(defs []Argument, owners []string) (arg Argument, err error) {
	var (
		unique []Argument
		who    []string
	)
	for i, d := range defs {
		var seen bool
		for _, u := range unique {
			if u.Equal(d) {
				seen = true
				break
			}
		}
		if !seen {
			unique = append(unique, d)
			if i < len(owners) {
				who = append(who, owners[i])
			}
		}
	}
	switch {
	case len(unique) == 0:
		err = errors.Wrap(ErrInternal, "no definitions to reconcile")
	case len(unique) == 1:
		arg = unique[0]
	case len(unique) == 2 && unique[0].equalIgnoringAtomic(unique[1]):
		arg = unique[0]
		if unique[1].Atomic {
			arg = unique[1]
		}
	default:
		err = errors.Wrapf(ErrArgumentConflict,
			"argument %s has %d incompatible definitions in kernels %v", defs[0].Name, len(unique), who)
	}
	return
}
