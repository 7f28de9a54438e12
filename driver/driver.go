package driver

import (
	"fmt"
	"strings"

	"github.com/notargets/kernelgen/codegen"
	"github.com/notargets/kernelgen/kernel"
	"github.com/notargets/kernelgen/merge"
	"github.com/notargets/kernelgen/splitter"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
	"github.com/notargets/kernelgen/workbuffer"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const (
	maxPerRun   = "MAX_PER_RUN"
	problemSize = "problem_size"
	hostPrefix  = "h_"
	devPrefix   = "d_"
)

type Driver struct {
	Name      string
	BatchSize int64
	Files     []merge.File
}

func (d *Driver) File(name string) (f merge.File, ok bool) {
	return lo.Find(d.Files, func(f merge.File) bool { return f.Name == name })
}

type generator struct {
	out    *merge.Output
	dev    target.Backend
	host   target.Backend
	name   string
	batch  int64
	arrays []types.Argument // caller arrays, under their kernel names
	values []types.Argument
}

// Generate writes the host side of a merged root: the companion header, the
// driver looping the wrapper over batches of MAX_PER_RUN conditions, and the
// build script. Device targets also get the program compiler.
func Generate(out *merge.Output) (d *Driver, err error) {
	g := &generator{
		out:  out,
		dev:  out.Backend,
		name: out.Root + "_driver",
	}
	if g.batch, err = BatchSize(out); err != nil {
		return nil, errors.Wrapf(err, "driver %s", g.name)
	}
	if g.host, err = target.New(target.Options{Lang: target.C, Order: g.dev.Options().Order}); err != nil {
		return nil, err
	}
	for _, a := range out.Arguments {
		switch {
		case a.IsValue:
			g.values = append(g.values, a)
		case a.Scope == types.Global && out.Packing.Packed(a.Name):
			a.Atomic = false
			g.arrays = append(g.arrays, a)
		}
	}
	var src []byte
	if src, err = g.source(); err != nil {
		return nil, errors.Wrapf(err, "driver %s", g.name)
	}
	d = &Driver{Name: g.name, BatchSize: g.batch}
	d.Files = append(d.Files,
		merge.File{Name: out.Header(), Data: g.header()},
		merge.File{Name: g.name + ".c", Data: src},
	)
	if prog, ok := g.dev.CompileProgram(out.Root); ok {
		d.Files = append(d.Files, merge.File{Name: out.Root + "_compiler.c", Data: codegen.Render(prog)})
	}
	d.Files = append(d.Files, merge.File{
		Name: "build.sh",
		Data: g.dev.BuildScript(out.Root, []string{g.name + ".c"}),
	})
	return
}

func hostName(name string) string { return hostPrefix + name }

// decl is the driver prototype: the problem size, the caller arrays holding
// every condition, then the scalar arguments.
func (g *generator) decl() codegen.FuncDecl {
	params := []codegen.Gen{codegen.Raw("int const " + problemSize)}
	for _, a := range g.arrays {
		a.Name = hostName(a.Name)
		params = append(params, g.host.ParamDecl(a))
	}
	for _, a := range g.values {
		params = append(params, g.host.ParamDecl(a))
	}
	return codegen.FuncDecl{ReturnType: codegen.Raw("void"), Name: g.name, Params: params}
}

func (g *generator) isHostConstant(name string) bool {
	return lo.ContainsBy(g.out.HostConstants, func(a types.Argument) bool { return a.Name == name })
}

// call is the wrapper invocation of one batch
func (g *generator) call() string {
	if g.dev.Device() {
		return "CHECK_ERR(clEnqueueNDRangeKernel(queue, kernel, 1, NULL, &global_size, &local_size, 0, NULL, NULL))"
	}
	args := lo.Map(g.out.Result().Args, func(a types.Argument, _ int) string {
		if g.isHostConstant(a.Name) {
			return hostName(a.Name)
		}
		return a.Name
	})
	return fmt.Sprintf("%s(%s)", g.out.Root, strings.Join(args, ", "))
}

// kernelArgs binds the root wrapper parameters in declaration order
func (g *generator) kernelArgs() (args []target.KernelArg) {
	for _, a := range g.out.Result().Args {
		switch buf, ok := g.out.Packing.Buffer(a.Name); {
		case ok && buf.Scope == types.Local:
			args = append(args, target.KernelArg{Name: a.Name, DType: buf.DType, Kind: target.LocalBufferArg,
				SizeExpr: g.out.Packing.Expr(buf.Size)})
		case ok, g.isHostConstant(a.Name):
			args = append(args, target.KernelArg{Name: devPrefix + a.Name, DType: a.DType, Kind: target.BufferArg})
		default:
			args = append(args, target.KernelArg{Name: a.Name, DType: a.DType, Kind: target.ValueArg})
		}
	}
	return
}

func (g *generator) bytes(b *workbuffer.Buffer) string {
	return fmt.Sprintf("(%s) * sizeof(%s)", g.out.Packing.Expr(b.Size), b.DType.CName())
}

// allocations creates a host image of every working buffer; device targets
// pair each global one with a device buffer.
func (g *generator) allocations() (stmts codegen.Stmts) {
	for _, b := range g.out.Packing.Buffers {
		if g.dev.Device() && b.Scope == types.Local {
			continue
		}
		ptr := b.DType.CName() + "*"
		stmts = append(stmts, codegen.Decl{
			Type: codegen.Raw(ptr),
			What: codegen.Raw(b.Name),
			Init: codegen.Raw(fmt.Sprintf("(%s) malloc(%s)", ptr, g.bytes(b))),
		})
		if g.dev.Device() {
			stmts = append(stmts,
				codegen.Line(fmt.Sprintf("cl_mem %s%s = clCreateBuffer(context, CL_MEM_READ_WRITE, %s, NULL, &return_code);",
					devPrefix, b.Name, g.bytes(b))),
				codegen.Line("CHECK_ERR(return_code);"))
		}
	}
	if !g.dev.Device() {
		return
	}
	for _, h := range g.out.HostConstants {
		static, _, _ := h.Shape.Elements()
		stmts = append(stmts,
			codegen.Line(fmt.Sprintf(
				"cl_mem %s%s = clCreateBuffer(context, CL_MEM_READ_ONLY | CL_MEM_COPY_HOST_PTR, %d * sizeof(%s), (void*) %s, &return_code);",
				devPrefix, h.Name, static, h.DType.CName(), hostName(h.Name))),
			codegen.Line("CHECK_ERR(return_code);"))
	}
	return
}

// access is the working buffer element and the caller array element of
// condition j of a batched argument, with the loops over its fixed axes.
func (g *generator) access(a types.Argument) (dev, hst codegen.Gen, loops []target.Loop) {
	var (
		lay       = g.out.Splitter.SplitShape(a.Shape)
		hostShape = append(types.Shape{}, a.Shape...)
		exprs     = make([]string, len(a.Shape))
		hostExprs = make([]string, len(a.Shape))
		n         int
	)
	for k, d := range a.Shape {
		if d.IsSymbolic() {
			hostShape[k] = types.Symbolic(problemSize)
			exprs[k], hostExprs[k] = "j", "offset + j"
			continue
		}
		iname := fmt.Sprintf("i%d", n)
		n++
		exprs[k], hostExprs[k] = iname, iname
		loops = append(loops, target.Loop{Iname: iname, Lower: "0", Upper: d.String()})
	}
	hostLay := splitter.Layout{Logical: hostShape, Shape: hostShape, VectorAxis: -1, SplitAxis: -1, Order: lay.Order}
	dev = codegen.Raw(fmt.Sprintf("%s[%s]", a.Name, splitter.Flatten(lay, splitter.Subscript(lay, exprs, nil))))
	hst = codegen.Raw(fmt.Sprintf("%s[%s]", hostName(a.Name), splitter.Flatten(hostLay, hostExprs)))
	return
}

func (g *generator) nest(j target.Loop, loops []target.Loop, stmt codegen.Gen) codegen.Gen {
	var body codegen.Gen = codegen.Stmts{stmt}
	for k := len(loops) - 1; k >= 0; k-- {
		body = g.host.Loop(loops[k], body)
	}
	return g.host.Loop(j, body)
}

// stage copies the conditions of the current batch between a caller array and
// its slot in the working buffer. The caller array holds all problem_size
// conditions in the same data order, unsplit.
func (g *generator) stage(a types.Argument, in bool) codegen.Gen {
	dev, hst, loops := g.access(a)
	asg := codegen.Assign{Expr1: dev, Expr2: hst}
	if !in {
		asg = codegen.Assign{Expr1: hst, Expr2: dev}
	}
	return g.nest(target.Loop{Iname: "j", Lower: "0", Upper: "this_run"}, loops, asg)
}

// zeroTail clears the slots past this_run, which the wrapper still evaluates
func (g *generator) zeroTail(a types.Argument) codegen.Gen {
	dev, _, loops := g.access(a)
	return g.nest(target.Loop{Iname: "j", Lower: "this_run", Upper: maxPerRun}, loops,
		codegen.Assign{Expr1: dev, Expr2: codegen.IntLit(0)})
}

func (g *generator) memcpy(a types.Argument, in bool) codegen.Gen {
	static, _, _ := a.Shape.Elements()
	dst, src := a.Name, hostName(a.Name)
	if !in {
		dst, src = src, dst
	}
	return codegen.Call{Func: codegen.Raw("memcpy"), Args: []codegen.Gen{
		codegen.Raw(dst), codegen.Raw(src), codegen.Raw(fmt.Sprintf("%d * sizeof(%s)", static, a.DType.CName())),
	}}
}

func batched(a types.Argument) bool {
	return a.Shape.Symbol() != ""
}

func (g *generator) transfers(write bool) (stmts codegen.Stmts) {
	for _, b := range g.out.Packing.Buffers {
		if b.Scope != types.Global {
			continue
		}
		if write {
			stmts = append(stmts, codegen.Line(fmt.Sprintf(
				"CHECK_ERR(clEnqueueWriteBuffer(queue, %s%s, CL_TRUE, 0, %s, %s, 0, NULL, NULL));",
				devPrefix, b.Name, g.bytes(b), b.Name)))
			continue
		}
		stmts = append(stmts, codegen.Line(fmt.Sprintf(
			"CHECK_ERR(clEnqueueReadBuffer(queue, %s%s, CL_TRUE, 0, %s, %s, 0, NULL, NULL));",
			devPrefix, b.Name, g.bytes(b), b.Name)))
	}
	return
}

// batchLoop walks the problem in consecutive runs of MAX_PER_RUN conditions
func (g *generator) batchLoop(placeholder string) codegen.Gen {
	body := codegen.Stmts{
		codegen.Decl{
			Type: codegen.Raw("int const"),
			What: codegen.Raw("this_run"),
			Init: codegen.Raw(fmt.Sprintf("%s - offset < %s ? %s - offset : %s",
				problemSize, maxPerRun, problemSize, maxPerRun)),
		},
	}
	inputs := lo.Filter(g.arrays, func(a types.Argument, _ int) bool { return batched(a) && g.out.Reads(a.Name) })
	for _, a := range inputs {
		body = append(body, g.stage(a, true), g.zeroTail(a))
	}
	if g.dev.Device() {
		body = append(body, g.transfers(true)...)
	}
	body = append(body, codegen.Call{Func: codegen.Raw(placeholder)})
	if g.dev.Device() {
		body = append(body, codegen.Line("CHECK_ERR(clFinish(queue));"))
		body = append(body, g.transfers(false)...)
	}
	for _, a := range lo.Filter(g.arrays, func(a types.Argument, _ int) bool { return batched(a) && !a.ReadOnly }) {
		body = append(body, g.stage(a, false))
	}
	return codegen.For{
		Init: codegen.Decl{Type: codegen.Raw("long"), What: codegen.Raw("offset"), Init: codegen.IntLit(0)},
		Cond: codegen.Raw("offset < " + problemSize),
		Post: codegen.Raw("offset += " + maxPerRun),
		Body: body,
	}
}

func (g *generator) setup() codegen.Stmts {
	root := g.out.Root
	return codegen.Stmts{
		codegen.Line("cl_int return_code;"),
		codegen.Line("cl_device_id device = select_device();"),
		codegen.Line("cl_context context = clCreateContext(NULL, 1, &device, NULL, NULL, &return_code);"),
		codegen.Line("CHECK_ERR(return_code);"),
		codegen.Line("cl_command_queue queue = clCreateCommandQueue(context, device, 0, &return_code);"),
		codegen.Line("CHECK_ERR(return_code);"),
		codegen.Line(fmt.Sprintf(`FILE* fp = fopen("%s.bin", "rb");`, root)),
		codegen.Line(fmt.Sprintf(`if (!fp) { fprintf(stderr, "cannot open %s.bin\n"); exit(-1); }`, root)),
		codegen.Line("fseek(fp, 0, SEEK_END);"),
		codegen.Line("size_t binary_size = (size_t) ftell(fp);"),
		codegen.Line("rewind(fp);"),
		codegen.Line("unsigned char* binary = (unsigned char*) malloc(binary_size);"),
		codegen.Line("if (fread(binary, 1, binary_size, fp) != binary_size) { fclose(fp); exit(-1); }"),
		codegen.Line("fclose(fp);"),
		codegen.Line("cl_program program = clCreateProgramWithBinary(context, 1, &device, &binary_size, " +
			"(const unsigned char**) &binary, NULL, &return_code);"),
		codegen.Line("CHECK_ERR(return_code);"),
		codegen.Line(`CHECK_ERR(clBuildProgram(program, 1, &device, "", NULL, NULL));`),
		codegen.Line("free(binary);"),
		codegen.Line(fmt.Sprintf(`cl_kernel kernel = clCreateKernel(program, "%s", &return_code);`, root)),
		codegen.Line("CHECK_ERR(return_code);"),
	}
}

// geometry launches one work-group per condition, or per vector of them
func (g *generator) geometry() codegen.Stmts {
	var (
		local  = g.out.LocalSize
		global = fmt.Sprintf("%s * %d", maxPerRun, local)
	)
	if w := g.dev.Options().Width; w > 0 {
		global = fmt.Sprintf("(%s / %d) * %d", maxPerRun, w, local)
	}
	return codegen.Stmts{
		codegen.Decl{Type: codegen.Raw("size_t const"), What: codegen.Raw("local_size"), Init: codegen.IntLit(local)},
		codegen.Decl{Type: codegen.Raw("size_t const"), What: codegen.Raw("global_size"), Init: codegen.Raw(global)},
	}
}

func (g *generator) release() (stmts codegen.Stmts) {
	if g.dev.Device() {
		for _, b := range g.out.Packing.Buffers {
			if b.Scope == types.Global {
				stmts = append(stmts, codegen.Line(fmt.Sprintf("clReleaseMemObject(%s%s);", devPrefix, b.Name)))
			}
		}
		for _, h := range g.out.HostConstants {
			stmts = append(stmts, codegen.Line(fmt.Sprintf("clReleaseMemObject(%s%s);", devPrefix, h.Name)))
		}
		stmts = append(stmts,
			codegen.Line("clReleaseKernel(kernel);"),
			codegen.Line("clReleaseProgram(program);"),
			codegen.Line("clReleaseCommandQueue(queue);"),
			codegen.Line("clReleaseContext(context);"),
		)
	}
	for _, b := range g.out.Packing.Buffers {
		if g.dev.Device() && b.Scope == types.Local {
			continue
		}
		stmts = append(stmts, codegen.Call{Func: codegen.Raw("free"), Args: []codegen.Gen{codegen.Raw(b.Name)}})
	}
	return
}

func (g *generator) body(placeholder string) (body codegen.Stmts) {
	if g.dev.Device() {
		body = append(body, g.setup()...)
	}
	body = append(body, g.allocations()...)
	if g.dev.Device() {
		body = append(body, g.dev.KernelArgSetting("kernel", g.kernelArgs())...)
		body = append(body, g.geometry()...)
	}
	names := lo.Map(g.arrays, func(a types.Argument, _ int) string { return a.Name })
	body = append(body, g.out.Packing.UnpacksOf(g.host, names)...)
	static := lo.Reject(g.arrays, func(a types.Argument, _ int) bool { return batched(a) })
	for _, a := range static {
		if g.out.Reads(a.Name) {
			body = append(body, g.memcpy(a, true))
		}
	}
	body = append(body, g.batchLoop(placeholder))
	for _, a := range static {
		if !a.ReadOnly {
			body = append(body, g.memcpy(a, false))
		}
	}
	return append(body, g.release()...)
}

func (g *generator) source() (src []byte, err error) {
	var (
		placeholder = g.out.Root + "_placeholder"
		parts       []string
		add         = func(gen codegen.Gen) {
			if gen != nil {
				if s := strings.TrimRight(codegen.RenderString(gen), "\n"); s != "" {
					parts = append(parts, s)
				}
			}
		}
	)
	if g.dev.Device() {
		add(g.dev.HostPreamble())
	} else {
		add(g.host.HostPreamble())
	}
	add(codegen.Include(g.out.Header()))
	add(codegen.Guard{
		Symbol: types.BatchSymbol,
		Body:   codegen.Define(types.BatchSymbol, codegen.Raw("("+maxPerRun+")")),
	})
	for _, h := range g.out.HostConstants {
		h.Name = hostName(h.Name)
		add(kernel.Initializer(g.host, h))
	}
	if g.dev.Device() {
		add(g.dev.HostSetup())
	}
	decl := g.decl()
	add(codegen.FuncDef{
		ReturnType: decl.ReturnType,
		Name:       decl.Name,
		Params:     decl.Params,
		Body:       g.body(placeholder),
	})
	text := strings.Join(parts, "\n\n") + "\n"
	fc := merge.FakeCall{Dummy: placeholder + "()", ReplaceIn: g.name, ReplaceWith: g.call()}
	if text, err = fc.Apply(text); err != nil {
		return
	}
	return []byte(text), nil
}
