/*
Package codegen is a small typed syntax tree for C-family source. Every node
appends its text to a byte slice; Render concatenates and indents the result.
Generators build trees of these nodes instead of substituting into templates.
*/
package codegen

import (
	"strconv"
	"strings"
)

type Gen interface {
	Append(to []byte) []byte
}

const (
	comma     = ","
	newline   = "\n"
	semicolon = ";"
	space     = " "
)

// Gens concatenates its elements
type Gens []Gen

func (gs Gens) Append(to []byte) []byte {
	for _, g := range gs {
		if g != nil {
			to = g.Append(to)
		}
	}
	return to
}

// Raw is verbatim text
type Raw string

func (r Raw) Append(to []byte) []byte {
	return append(to, r...)
}

// Line is verbatim text terminated by a newline
type Line string

func (l Line) Append(to []byte) []byte {
	return append(append(to, l...), newline...)
}

// Stmts terminates each element with a semicolon unless it already ends a
// statement or a block.
type Stmts []Gen

func (ss Stmts) Append(to []byte) []byte {
	for _, s := range ss {
		if s == nil {
			continue
		}
		n := len(to)
		to = s.Append(to)
		if len(to) == n {
			continue
		}
		switch to[len(to)-1] {
		case '\n':
		case '}', ';':
			to = append(to, newline...)
		default:
			to = append(to, semicolon+newline...)
		}
	}
	return to
}

type Block struct {
	Inner Gen
}

func (b Block) Append(to []byte) []byte {
	to = append(to, "{"+newline...)
	if b.Inner != nil {
		to = b.Inner.Append(to)
		if len(to) > 0 && to[len(to)-1] != '\n' {
			to = append(to, newline...)
		}
	}
	return append(to, '}')
}

// Comment renders each line as a C block comment line
type Comment []string

func (c Comment) Append(to []byte) []byte {
	if len(c) == 1 {
		return append(to, "/* "+c[0]+" */"+newline...)
	}
	to = append(to, "/*"+newline...)
	for _, line := range c {
		to = append(to, " * "...)
		to = append(to, strings.TrimRight(line, space)...)
		to = append(to, newline...)
	}
	return append(to, " */"+newline...)
}

type IntLit int64

func (i IntLit) Append(to []byte) []byte {
	return strconv.AppendInt(to, int64(i), 10)
}

type Spaced []Gen

func (s Spaced) Append(to []byte) []byte {
	return join(to, s, space)
}

type CommaSpaced []Gen

func (cs CommaSpaced) Append(to []byte) []byte {
	return join(to, cs, comma+space)
}

func join(to []byte, gs []Gen, sep string) []byte {
	var first = true
	for _, g := range gs {
		if g == nil {
			continue
		}
		if !first {
			to = append(to, sep...)
		}
		first = false
		to = g.Append(to)
	}
	return to
}

type Paren struct {
	Inner Gen
}

func (p Paren) Append(to []byte) []byte {
	to = append(to, '(')
	to = p.Inner.Append(to)
	return append(to, ')')
}

type Call struct {
	Func Gen
	Args []Gen
}

func (c Call) Append(to []byte) []byte {
	to = c.Func.Append(to)
	return Paren{CommaSpaced(c.Args)}.Append(to)
}

type Assign struct {
	Expr1, Expr2 Gen
}

func (a Assign) Append(to []byte) []byte {
	to = a.Expr1.Append(to)
	to = append(to, " = "...)
	return a.Expr2.Append(to)
}

// Decl declares What with type Type and an optional initializer
type Decl struct {
	Type Gen
	What Gen
	Init Gen
}

func (d Decl) Append(to []byte) []byte {
	to = d.Type.Append(to)
	to = append(to, space...)
	to = d.What.Append(to)
	if d.Init != nil {
		to = append(to, " = "...)
		to = d.Init.Append(to)
	}
	return to
}

type Ptr struct {
	Type Gen
}

func (p Ptr) Append(to []byte) []byte {
	return append(p.Type.Append(to), '*')
}

// Param is one function parameter
type Param struct {
	Type Gen
	What Gen
}

func (p Param) Append(to []byte) []byte {
	to = p.Type.Append(to)
	if p.What != nil {
		to = append(to, space...)
		to = p.What.Append(to)
	}
	return to
}

type FuncDecl struct {
	Qualifier  string
	ReturnType Gen
	Name       string
	Params     []Gen
}

func (f FuncDecl) Append(to []byte) []byte {
	if f.Qualifier != "" {
		to = append(to, f.Qualifier+space...)
	}
	to = f.ReturnType.Append(to)
	to = append(to, space+f.Name...)
	to = Paren{CommaSpaced(f.Params)}.Append(to)
	return append(to, semicolon+newline...)
}

type FuncDef struct {
	Qualifier  string
	ReturnType Gen
	Name       string
	Params     []Gen
	Body       Gen
}

func (f FuncDef) Append(to []byte) []byte {
	if f.Qualifier != "" {
		to = append(to, f.Qualifier+space...)
	}
	to = f.ReturnType.Append(to)
	to = append(to, space+f.Name...)
	to = Paren{CommaSpaced(f.Params)}.Append(to)
	to = append(to, newline...)
	to = Block{f.Body}.Append(to)
	return append(to, newline+newline...)
}

type For struct {
	Init, Cond, Post Gen
	Body             Gen
}

func (f For) Append(to []byte) []byte {
	to = append(to, "for ("...)
	to = f.Init.Append(to)
	to = append(to, "; "...)
	to = f.Cond.Append(to)
	to = append(to, "; "...)
	to = f.Post.Append(to)
	to = append(to, ") "...)
	return Block{f.Body}.Append(to)
}

type If struct {
	Cond Gen
	Then Gen
}

func (i If) Append(to []byte) []byte {
	to = append(to, "if "...)
	to = Paren{i.Cond}.Append(to)
	to = append(to, space...)
	return Block{i.Then}.Append(to)
}

// Directive is a preprocessor line such as #pragma or #define
type Directive struct {
	Head string
	Tail Gen
}

func (d Directive) Append(to []byte) []byte {
	to = append(to, "#"+d.Head...)
	if d.Tail != nil {
		to = append(to, space...)
		to = d.Tail.Append(to)
	}
	return append(to, newline...)
}

func Define(name string, value Gen) Directive {
	return Directive{Head: "define", Tail: Spaced{Raw(name), value}}
}

func Include(path string) Directive {
	return Directive{Head: "include", Tail: Raw(strconv.Quote(path))}
}

func SysInclude(path string) Directive {
	return Directive{Head: "include", Tail: Raw("<" + path + ">")}
}

func Pragma(text string) Directive {
	return Directive{Head: "pragma", Tail: Raw(text)}
}

// Guard wraps Body in an #ifndef/#define/#endif include guard or default
type Guard struct {
	Symbol string
	Body   Gen
}

func (g Guard) Append(to []byte) []byte {
	to = Directive{Head: "ifndef", Tail: Raw(g.Symbol)}.Append(to)
	for _, line := range strings.SplitAfter(string(g.Body.Append(nil)), newline) {
		if line != "" {
			to = append(to, "    "+line...)
		}
	}
	return Directive{Head: "endif"}.Append(to)
}
