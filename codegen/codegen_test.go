package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStmts(t *testing.T) {
	tests := []struct {
		name string
		gen  Gen
		want string
	}{
		{"semicolon added", Stmts{Assign{Raw("x"), IntLit(1)}}, "x = 1;\n"},
		{"block not terminated", Stmts{Block{Stmts{Raw("y++")}}}, "{\ny++;\n}\n"},
		{"empty skipped", Stmts{Raw(""), Raw("z")}, "z;\n"},
		{"call", Stmts{Call{Raw("f"), []Gen{Raw("a"), nil, IntLit(-2)}}}, "f(a, -2);\n"},
		{"decl", Stmts{Decl{Ptr{Raw("double")}, Raw("x"), Raw("rwk + 4")}}, "double* x = rwk + 4;\n"},
		{"directive", Stmts{Pragma("omp parallel for")}, "#pragma omp parallel for\n"},
		{"comment", Comment{"one"}, "/* one */\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(tt.gen.Append(nil)))
		})
	}
}

func TestRender(t *testing.T) {
	f := FuncDef{
		ReturnType: Raw("void"),
		Name:       "zero",
		Params:     []Gen{Param{Ptr{Raw("double")}, Raw("x")}},
		Body: Stmts{
			For{
				Init: Decl{Raw("int"), Raw("i"), IntLit(0)},
				Cond: Raw("i < 4"),
				Post: Raw("++i"),
				Body: Stmts{Assign{Raw("x[i]"), Raw("0.0")}},
			},
		},
	}
	want := "void zero(double* x)\n" +
		"{\n" +
		"    for (int i = 0; i < 4; ++i) {\n" +
		"        x[i] = 0.0;\n" +
		"    }\n" +
		"}\n\n"
	assert.Equal(t, want, RenderString(f))
	// rendering is a pure function of the tree
	assert.Equal(t, Render(f), Render(f))
}

func TestGuard(t *testing.T) {
	g := Guard{Symbol: "work_size", Body: Define("work_size", Raw("(4)"))}
	assert.Equal(t, "#ifndef work_size\n    #define work_size (4)\n#endif\n", RenderString(g))
}

func TestIndentIgnoresQuotedBraces(t *testing.T) {
	src := "if (a) {\nprintf(\"{\");\n}\n"
	assert.Equal(t, "if (a) {\n    printf(\"{\");\n}\n", string(Indent([]byte(src))))
}

func TestIndentKeepsCommentColumn(t *testing.T) {
	c := Comment{"Species Rates", "Conditions per call: 4"}
	assert.Equal(t, "/*\n * Species Rates\n * Conditions per call: 4\n */\n", RenderString(c))
	assert.Equal(t, "{\n    *x = 0;\n}\n", string(Indent([]byte("{\n*x = 0;\n}\n"))))
}
