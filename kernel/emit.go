package kernel

import (
	"fmt"
	"strings"

	"github.com/notargets/kernelgen/codegen"
	"github.com/notargets/kernelgen/splitter"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

func (l *Lowered) layouts() map[string]splitter.Layout {
	lays := make(map[string]splitter.Layout)
	for _, a := range append(append([]types.Argument{}, l.Args...), l.Temporaries...) {
		if a.IsValue || len(a.Shape) == 0 {
			continue
		}
		lays[a.Name] = l.splitter.SplitShape(a.Shape)
	}
	return lays
}

// Call is the statement invoking the lowered kernel with its own arguments
func (l *Lowered) Call() codegen.Gen {
	return codegen.Call{
		Func: codegen.Raw(l.Name),
		Args: lo.Map(l.Args, func(a types.Argument, _ int) codegen.Gen { return codegen.Raw(a.Name) }),
	}
}

// Function emits the kernel as a standalone target function
func (l *Lowered) Function(b target.Backend) (f codegen.FuncDef, err error) {
	var (
		lays            = l.layouts()
		d               = l.Desc
		pre, main, post codegen.Stmts
	)
	for _, part := range []struct {
		src []string
		dst *codegen.Stmts
	}{{d.Pre, &pre}, {d.Instructions, &main}, {d.Post, &post}} {
		for _, ins := range part.src {
			var out string
			if out, err = rewrite(ins, lays, l.LoopSplit); err != nil {
				err = errors.Wrapf(err, "kernel %s", l.Name)
				return
			}
			*part.dst = append(*part.dst, codegen.Raw(out))
		}
	}

	// inner loop nest
	var body codegen.Gen = main
	if len(l.Inner) > 0 {
		body = l.wrap(l.Inner, d.LoopVar, main, b)
	}
	condBody := codegen.Stmts{l.privateDecls(b), pre, body, post}
	nest := l.wrap(l.Outer, ConditionVar, condBody, b)

	var stmts codegen.Stmts
	if len(d.Assumptions) > 0 {
		stmts = append(stmts, codegen.Comment{"assumes: " + strings.Join(d.Assumptions, ", ")})
	}
	stmts = append(stmts, nest)
	f = codegen.FuncDef{
		ReturnType: codegen.Raw("void"),
		Name:       l.Name,
		Params:     lo.Map(l.Args, func(a types.Argument, _ int) codegen.Gen { return b.ParamDecl(a) }),
		Body:       stmts,
	}
	return
}

// wrap nests body in loops, innermost last, recombining a split index and
// guarding its tail inside the innermost loop of the split.
func (l *Lowered) wrap(loops []target.Loop, iname string, body codegen.Gen, b target.Backend) codegen.Gen {
	if rec, ok := l.recombine[iname]; ok {
		inner := body
		if guard, ok := l.guards[iname]; ok {
			inner = codegen.If{Cond: codegen.Raw(guard), Then: body}
		}
		body = codegen.Stmts{rec, inner}
	}
	for i := len(loops) - 1; i >= 0; i-- {
		body = b.Loop(loops[i], body)
	}
	return body
}

// privateDecls declares scratch temporaries per condition; local temporaries
// that were not hoisted to parameters are private on targets without local memory.
func (l *Lowered) privateDecls(b target.Backend) (stmts codegen.Stmts) {
	for _, t := range l.Temporaries {
		if t.Init != nil || t.Scope == types.Constant {
			continue
		}
		if t.IsValue || len(t.Shape) == 0 {
			stmts = append(stmts, codegen.Decl{Type: codegen.Raw(t.DType.CName()), What: codegen.Raw(t.Name)})
			continue
		}
		static, _, _ := t.Shape.Elements()
		stmts = append(stmts, codegen.Decl{
			Type: codegen.Raw(t.DType.CName()),
			What: codegen.Raw(fmt.Sprintf("%s[%d]", t.Name, static)),
		})
	}
	return
}

// Constants returns the temporaries carrying initializer data
func (l *Lowered) Constants() []types.Argument {
	return lo.Filter(l.Temporaries, func(t types.Argument, _ int) bool { return t.Init != nil })
}

// Initializer renders a constant array as a file scope definition, values in the
// data order of the target.
func Initializer(b target.Backend, a types.Argument) codegen.Gen {
	var (
		r, c   = a.Init.Dims()
		values []string
		order  = b.Options().Order
		format = func(v float64) string {
			if a.DType.IsInteger() {
				return fmt.Sprintf("%d", int64(v))
			}
			return fmt.Sprintf("%.15e", v)
		}
	)
	if order == types.ColumnMajor {
		for j := 0; j < c; j++ {
			for i := 0; i < r; i++ {
				values = append(values, format(a.Init.At(i, j)))
			}
		}
	} else {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				values = append(values, format(a.Init.At(i, j)))
			}
		}
	}
	var sb strings.Builder
	for i, chunk := range lo.Chunk(values, 4) {
		if i > 0 {
			sb.WriteString(",\n")
		}
		sb.WriteString(strings.Join(chunk, ", "))
	}
	typ := strings.TrimSpace(b.ConstantQualifier() + " " + a.DType.CName() + " const")
	return codegen.Gens{
		codegen.Decl{
			Type: codegen.Raw(typ),
			What: codegen.Raw(fmt.Sprintf("%s[%d]", a.Name, r*c)),
			Init: codegen.Block{Inner: codegen.Raw(sb.String())},
		},
		codegen.Raw(";\n"),
	}
}

// rewrite maps every subscripted access of a known array from its logical
// multi-index to a flat physical offset, e.g. phi[j, i] -> phi[j * 54 + i].
func rewrite(ins string, lays map[string]splitter.Layout, loopSplit map[string][2]string) (out string, err error) {
	var (
		sb strings.Builder
		i  int
	)
	for i < len(ins) {
		c := ins[i]
		if !isIdentStart(c) || (i > 0 && isIdentChar(ins[i-1])) {
			sb.WriteByte(c)
			i++
			continue
		}
		j := i
		for j < len(ins) && isIdentChar(ins[j]) {
			j++
		}
		name := ins[i:j]
		k := j
		for k < len(ins) && ins[k] == ' ' {
			k++
		}
		lay, known := lays[name]
		if !known || k >= len(ins) || ins[k] != '[' {
			sb.WriteString(name)
			i = j
			continue
		}
		end := matchBracket(ins, k)
		if end < 0 {
			err = errors.Wrapf(types.ErrConfiguration, "unbalanced subscript in %q", ins)
			return
		}
		var inner string
		if inner, err = rewrite(ins[k+1:end], lays, loopSplit); err != nil {
			return
		}
		exprs := splitTopLevel(inner)
		if len(exprs) != len(lay.Logical) {
			err = errors.Wrapf(types.ErrConfiguration, "%s has rank %d but is indexed as %s[%s]",
				name, len(lay.Logical), name, inner)
			return
		}
		flat := splitter.Flatten(lay, splitter.Subscript(lay, exprs, loopSplit))
		sb.WriteString(name + "[" + flat + "]")
		i = end + 1
	}
	out = sb.String()
	return
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func matchBracket(s string, open int) int {
	var depth int
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func splitTopLevel(s string) (parts []string) {
	var (
		depth int
		start int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}
