/*
Package kernel describes the small per-operation kernels that are merged into a
wrapper kernel, and lowers each one to a standalone target function: a loop over
conditions (ConditionVar) enclosing an optional inner loop over LoopVar.
*/
package kernel

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ConditionVar indexes conditions within one kernel call
const ConditionVar = "j"

type Preamble struct {
	Name string
	Code string
}

// Specializer vectorizes a lowered kernel that cannot be split automatically
type Specializer func(l *Lowered, vectorWidth int) error

// Descriptor is one unit of work as produced by an instruction builder. It is
// consumed by Specialize and not modified afterwards.
type Descriptor struct {
	Name         string
	LoopVar      string
	Extent       types.Dim
	Pre          []string
	Instructions []string
	Post         []string
	Args         []types.Argument
	Temporaries  []types.Argument
	Assumptions  []string
	CanVectorize bool
	Specializer  Specializer
	Preambles    []Preamble
	// Protected constant temporaries stay compile time constants
	Protected []string
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (d *Descriptor) Validate() (err error) {
	if !identifier.MatchString(d.Name) {
		return errors.Wrapf(types.ErrConfiguration, "kernel name %q is not an identifier", d.Name)
	}
	if d.LoopVar != "" {
		if !identifier.MatchString(d.LoopVar) || d.LoopVar == ConditionVar {
			return errors.Wrapf(types.ErrConfiguration, "kernel %s: invalid loop variable %q", d.Name, d.LoopVar)
		}
		if !d.Extent.IsSymbolic() && d.Extent.Size < 1 {
			return errors.Wrapf(types.ErrConfiguration, "kernel %s: loop over %s needs an extent", d.Name, d.LoopVar)
		}
	}
	names := append(lo.Map(d.Args, func(a types.Argument, _ int) string { return a.Name }),
		lo.Map(d.Temporaries, func(a types.Argument, _ int) string { return a.Name })...)
	if dup := lo.FindDuplicates(names); len(dup) > 0 {
		return errors.Wrapf(types.ErrConfiguration, "kernel %s declares %v more than once", d.Name, dup)
	}
	return
}

func (d *Descriptor) AllInstructions() []string {
	return append(append(append([]string{}, d.Pre...), d.Instructions...), d.Post...)
}

var lhsName = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*(\[.*\])?\s*$`)

// Writes returns the names assigned by the kernel's instructions, in first-write
// order. The target of an instruction is the identifier left of its first
// assignment operator (=, +=, -=, *=, /=).
func (d *Descriptor) Writes() (names []string) {
	for _, ins := range d.AllInstructions() {
		lhs, ok := assignmentTarget(ins)
		if !ok {
			continue
		}
		if m := lhsName.FindStringSubmatch(lhs); m != nil {
			names = append(names, m[1])
		}
	}
	return lo.Uniq(names)
}

func (d *Descriptor) WritesTo(name string) bool {
	return lo.Contains(d.Writes(), name)
}

var identifiers = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*`)

// Reads returns the names the kernel's instructions read: everything right of an
// assignment, the subscripts of its target and the target of a compound
// assignment. An instruction without an assignment reads every name in it.
func (d *Descriptor) Reads() (names []string) {
	for _, ins := range d.AllInstructions() {
		lhs, rhs, compound, ok := assignment(ins)
		if !ok {
			names = append(names, identifiers.FindAllString(ins, -1)...)
			continue
		}
		if m := lhsName.FindStringSubmatch(lhs); m != nil {
			if compound {
				names = append(names, m[1])
			}
			names = append(names, identifiers.FindAllString(m[2], -1)...)
		}
		names = append(names, identifiers.FindAllString(rhs, -1)...)
	}
	return lo.Uniq(names)
}

func (d *Descriptor) ReadsFrom(name string) bool {
	return lo.Contains(d.Reads(), name)
}

func assignmentTarget(ins string) (lhs string, ok bool) {
	lhs, _, _, ok = assignment(ins)
	return
}

// assignment splits an instruction at its first top level assignment operator
func assignment(ins string) (lhs, rhs string, compound, ok bool) {
	var depth int
	for i := 0; i < len(ins); i++ {
		switch c := ins[i]; c {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(ins) && ins[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && strings.ContainsRune("=<>!", rune(ins[i-1])) {
				continue
			}
			head := strings.TrimRight(ins[:i], " \t")
			compound = head != "" && strings.ContainsRune("+-*/", rune(head[len(head)-1]))
			return strings.TrimRight(head, "+-*/ \t"), ins[i+1:], compound, true
		}
	}
	return
}

// hasDivisibility reports whether the kernel assumes sym is a multiple of w
func (d *Descriptor) hasDivisibility(sym string, w int) bool {
	want := strings.Join(strings.Fields(sym+" mod "+strconv.Itoa(w)+" = 0"), " ")
	return lo.ContainsBy(d.Assumptions, func(a string) bool {
		return strings.Join(strings.Fields(a), " ") == want
	})
}
