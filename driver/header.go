package driver

import (
	"fmt"
	"strings"

	"github.com/notargets/kernelgen/codegen"
	"github.com/notargets/kernelgen/memory"
	"github.com/notargets/kernelgen/types"
	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// header is the companion header shared by the kernel source and the driver
func (g *generator) header() []byte {
	var (
		root  = g.out.Root
		guard = strings.ToUpper(root) + "_H"
		title = cases.Title(language.English).String(strings.ReplaceAll(root, "_", " "))
		opts  = g.dev.Options()
		decls codegen.Gens
	)
	if !g.dev.Device() {
		b := g.dev
		decls = append(decls, codegen.FuncDecl{
			ReturnType: codegen.Raw("void"),
			Name:       root,
			Params:     lo.Map(g.out.Result().Args, func(a types.Argument, _ int) codegen.Gen { return b.ParamDecl(a) }),
		})
	}
	decls = append(decls, g.decl())
	doc := codegen.Comment{
		title,
		fmt.Sprintf("Target %s, order %s, vector width %d", opts.Lang, opts.Order, opts.VectorWidth()),
		fmt.Sprintf("Conditions per call: %d", g.batch),
		"Limits: " + g.limits(),
	}
	return codegen.Render(codegen.Gens{
		codegen.Directive{Head: "ifndef", Tail: codegen.Raw(guard)},
		codegen.Define(guard, nil),
		codegen.Raw("\n"),
		doc,
		codegen.Define(maxPerRun, codegen.Raw(fmt.Sprintf("(%d)", g.batch))),
		codegen.Raw("\n"),
		decls,
		codegen.Raw("\n"),
		codegen.Directive{Head: "endif"},
	})
}

// limits lists the resolved memory limits the batch size was derived from
func (g *generator) limits() string {
	var (
		l     = g.out.Budget.Limits
		parts []string
	)
	for _, c := range memory.Categories {
		if v, ok := l.Limit(c); ok {
			parts = append(parts, fmt.Sprintf("%s %d", c, v))
		}
	}
	if l.LimitIntOverflow {
		parts = append(parts, "int overflow")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
