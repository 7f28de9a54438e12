/*
Package workbuffer packs the array arguments of a merged kernel into a few flat
working buffers, one per memory scope and integer/floating class. Each argument
is recovered in generated code as a typed pointer at base + offset.
*/
package workbuffer

import (
	"fmt"

	"github.com/notargets/kernelgen/codegen"
	"github.com/notargets/kernelgen/memory"
	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Offset locates one argument in its buffer, in buffer elements
type Offset struct {
	Name   string
	DType  types.DataType
	Start  memory.Size
	Extent memory.Size
}

type Buffer struct {
	Name    string
	DType   types.DataType
	Scope   types.Scope
	Size    memory.Size // elements
	Offsets []Offset
}

func (b *Buffer) Offset(name string) (o Offset, ok bool) {
	return lo.Find(b.Offsets, func(o Offset) bool { return o.Name == name })
}

// Bytes is the buffer size in bytes as a function of the batch size
func (b *Buffer) Bytes() memory.Size {
	return memory.Size{Static: b.Size.Static * b.DType.Size(), PerItem: b.Size.PerItem * b.DType.Size()}
}

type partition struct {
	scope   types.Scope
	integer bool
}

var bufferNames = map[partition]string{
	{types.Global, false}: "rwk",
	{types.Global, true}:  "iwk",
	{types.Local, false}:  "lwk",
	{types.Local, true}:   "liwk",
}

var partitionOrder = []partition{
	{types.Global, false}, {types.Global, true}, {types.Local, false}, {types.Local, true},
}

type Packing struct {
	BatchSymbol string
	VectorWidth int
	Buffers     []*Buffer
	byArg       map[string]*Buffer
}

// Pack lays out the array arguments in their processing order. Static arrays are
// rounded up to a whole number of vector widths so every offset stays lane
// aligned. An argument scaled by anything but the batch symbol is rejected.
func Pack(args []types.Argument, batchSymbol string, vecWidth int) (p *Packing, err error) {
	p = &Packing{
		BatchSymbol: batchSymbol,
		VectorWidth: vecWidth,
		byArg:       make(map[string]*Buffer),
	}
	arrays := lo.Reject(args, func(a types.Argument, _ int) bool { return a.IsValue })
	for _, a := range arrays {
		if a.Scope != types.Global && a.Scope != types.Local {
			err = errors.Wrapf(types.ErrInternal, "cannot pack %s argument %s", a.Scope, a.Name)
			return nil, err
		}
		if sym := a.Shape.Symbol(); sym != "" && sym != batchSymbol {
			err = errors.Wrapf(types.ErrInternal,
				"argument %s: batch dimension %s is not %s, not implemented", a.Name, sym, batchSymbol)
			return nil, err
		}
	}
	groups := lo.GroupBy(arrays, func(a types.Argument) partition {
		return partition{a.Scope, a.DType.IsInteger()}
	})
	for _, part := range partitionOrder {
		members, ok := groups[part]
		if !ok {
			continue
		}
		dt := types.Float64
		if part.integer {
			dt = types.Widest(lo.Map(members, func(a types.Argument, _ int) types.DataType { return a.DType })...)
		}
		buf := &Buffer{Name: bufferNames[part], DType: dt, Scope: part.scope}
		for _, a := range members {
			var ext memory.Size
			if ext, err = extent(a, dt, vecWidth); err != nil {
				return nil, err
			}
			buf.Offsets = append(buf.Offsets, Offset{Name: a.Name, DType: a.DType, Start: buf.Size, Extent: ext})
			buf.Size = buf.Size.Add(ext)
			p.byArg[a.Name] = buf
		}
		p.Buffers = append(p.Buffers, buf)
	}
	return
}

func extent(a types.Argument, bufType types.DataType, vecWidth int) (ext memory.Size, err error) {
	var static, perItem int64
	if static, perItem, err = a.Bytes(); err != nil {
		return
	}
	ext = memory.Size{Static: ceilDiv(static, bufType.Size()), PerItem: ceilDiv(perItem, bufType.Size())}
	if vecWidth > 1 && ext.Static%int64(vecWidth) != 0 {
		ext.Static += int64(vecWidth) - ext.Static%int64(vecWidth)
	}
	return
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

func (p *Packing) Buffer(name string) (b *Buffer, ok bool) {
	return lo.Find(p.Buffers, func(b *Buffer) bool { return b.Name == name })
}

// Locate returns the buffer and offset holding an argument
func (p *Packing) Locate(arg string) (b *Buffer, o Offset, ok bool) {
	if b, ok = p.byArg[arg]; !ok {
		return
	}
	o, ok = b.Offset(arg)
	return
}

func (p *Packing) Packed(arg string) bool {
	_, ok := p.byArg[arg]
	return ok
}

// Expr renders a size in elements, e.g. "12 + 53 * work_size"
func (p *Packing) Expr(s memory.Size) string {
	switch {
	case s.PerItem == 0:
		return fmt.Sprintf("%d", s.Static)
	case s.Static == 0:
		return fmt.Sprintf("%d * %s", s.PerItem, p.BatchSymbol)
	}
	return fmt.Sprintf("%d + %d * %s", s.Static, s.PerItem, p.BatchSymbol)
}

// Unpacker emits the statement deriving a typed pointer from a working buffer
type Unpacker interface {
	PointerUnpack(name string, dt types.DataType, buffer string, bufType types.DataType,
		offset string, scope types.Scope) codegen.Gen
}

// Unpacks returns the pointer unpacking statements for every packed argument
func (p *Packing) Unpacks(u Unpacker) codegen.Stmts {
	return p.unpacks(u, func(string) bool { return true })
}

// UnpacksOf unpacks only the named arguments, in packing order
func (p *Packing) UnpacksOf(u Unpacker, names []string) codegen.Stmts {
	return p.unpacks(u, func(name string) bool { return lo.Contains(names, name) })
}

func (p *Packing) unpacks(u Unpacker, keep func(string) bool) (stmts codegen.Stmts) {
	for _, b := range p.Buffers {
		for _, o := range b.Offsets {
			if keep(o.Name) {
				stmts = append(stmts, u.PointerUnpack(o.Name, o.DType, b.Name, b.DType, p.Expr(o.Start), b.Scope))
			}
		}
	}
	return
}

// Uses returns the buffers holding at least one of the named arguments
func (p *Packing) Uses(names []string) []*Buffer {
	return lo.Filter(p.Buffers, func(b *Buffer, _ int) bool {
		return lo.ContainsBy(b.Offsets, func(o Offset) bool { return lo.Contains(names, o.Name) })
	})
}
