// Package compiler turns generated serializer source into invocable
// programs. The source is a restricted Go dialect (see codegen): the
// compiler parses it with go/parser and lowers each statement shape
// bottom-up into closures that run against the access package. This is
// the compiled-language rendition of a textual just-in-time compile:
// parse once per unique path set, execute many times.
package compiler

import (
	"go/ast"
	"go/parser"
	"go/token"

	"github.com/celox-dev/celox/access"
)

// env holds the live variables of one program invocation.
type env map[string]any

// stmt executes one lowered statement against an environment.
type stmt func(e env)

// Program is a compiled serializer. It is immutable after compilation
// and safe for concurrent use.
type Program struct {
	FuncName string

	body      []stmt
	returnVar string // "" means the function returns an empty mapping
}

// Run invokes the program on one object, producing a nested mapping.
// It never retains a reference to obj.
func (p *Program) Run(obj any) map[string]any {
	if p.returnVar == "" {
		return map[string]any{}
	}
	e := env{"obj": obj}
	for _, s := range p.body {
		s(e)
	}
	result, _ := e[p.returnVar].(map[string]any)
	if result == nil {
		result = map[string]any{}
	}
	return result
}

// Compile parses source and lowers the named function into a Program.
// A parse failure returns *SyntaxError; an unrecognized statement shape
// returns *LoweringError. Both indicate generator bugs and must
// propagate to the caller.
func Compile(source, funcName string) (*Program, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, funcName+".go", source, parser.SkipObjectResolution)
	if err != nil {
		return nil, &SyntaxError{FuncName: funcName, Err: err}
	}

	var decl *ast.FuncDecl
	for _, d := range file.Decls {
		if fd, ok := d.(*ast.FuncDecl); ok && fd.Name.Name == funcName {
			decl = fd
			break
		}
	}
	if decl == nil {
		return nil, &SyntaxError{FuncName: funcName, Err: errMissingFunc(funcName)}
	}

	l := &lowerer{funcName: funcName, fset: fset}
	prog, err := l.lowerFunc(decl)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

type errMissingFunc string

func (e errMissingFunc) Error() string {
	return "function " + string(e) + " not found in generated source"
}

// lowerer walks the restricted AST and produces closures.
type lowerer struct {
	funcName string
	fset     *token.FileSet
}

func (l *lowerer) errorf(node ast.Node, shape string) error {
	return &LoweringError{
		FuncName: l.funcName,
		Pos:      l.fset.Position(node.Pos()),
		Shape:    shape,
	}
}

func (l *lowerer) lowerFunc(decl *ast.FuncDecl) (*Program, error) {
	stmts := decl.Body.List
	if len(stmts) == 0 {
		return nil, l.errorf(decl, "empty function body")
	}

	ret, ok := stmts[len(stmts)-1].(*ast.ReturnStmt)
	if !ok || len(ret.Results) != 1 {
		return nil, l.errorf(stmts[len(stmts)-1], "function must end with a single-value return")
	}

	prog := &Program{FuncName: l.funcName}
	switch r := ret.Results[0].(type) {
	case *ast.CompositeLit:
		// return map[string]any{}, the empty-path-set program.
		if len(stmts) != 1 || len(r.Elts) != 0 {
			return nil, l.errorf(ret, "composite-literal return with preceding statements")
		}
		return prog, nil
	case *ast.Ident:
		prog.returnVar = r.Name
	default:
		return nil, l.errorf(ret, "return value must be an identifier or empty map literal")
	}

	body, err := l.lowerBlock(stmts[:len(stmts)-1])
	if err != nil {
		return nil, err
	}
	prog.body = body
	return prog, nil
}

func (l *lowerer) lowerBlock(list []ast.Stmt) ([]stmt, error) {
	out := make([]stmt, 0, len(list))
	for _, s := range list {
		lowered, err := l.lowerStmt(s)
		if err != nil {
			return nil, err
		}
		out = append(out, lowered)
	}
	return out, nil
}

func (l *lowerer) lowerStmt(s ast.Stmt) (stmt, error) {
	switch n := s.(type) {
	case *ast.AssignStmt:
		return l.lowerAssign(n)
	case *ast.IfStmt:
		return l.lowerIf(n)
	case *ast.RangeStmt:
		return l.lowerRange(n)
	default:
		return nil, l.errorf(s, "statement kind not in the generated dialect")
	}
}

// lowerAssign handles the three assignment shapes the generator emits:
// literal declarations, map-entry stores, and append.
func (l *lowerer) lowerAssign(n *ast.AssignStmt) (stmt, error) {
	if len(n.Lhs) != 1 || len(n.Rhs) != 1 {
		return nil, l.errorf(n, "multi-value assignment")
	}

	if n.Tok == token.DEFINE {
		name, ok := n.Lhs[0].(*ast.Ident)
		if !ok {
			return nil, l.errorf(n, "declaration target must be an identifier")
		}
		lit, ok := n.Rhs[0].(*ast.CompositeLit)
		if !ok || len(lit.Elts) != 0 {
			return nil, l.errorf(n, "declaration value must be an empty composite literal")
		}
		switch lit.Type.(type) {
		case *ast.MapType:
			return func(e env) { e[name.Name] = map[string]any{} }, nil
		case *ast.ArrayType:
			return func(e env) { e[name.Name] = []any{} }, nil
		}
		return nil, l.errorf(n, "declaration literal must be a map or slice")
	}

	if n.Tok != token.ASSIGN {
		return nil, l.errorf(n, "assignment operator not in the generated dialect")
	}

	switch lhs := n.Lhs[0].(type) {
	case *ast.IndexExpr:
		// m["key"] = v
		target, ok := lhs.X.(*ast.Ident)
		if !ok {
			return nil, l.errorf(n, "index target must be an identifier")
		}
		key, err := l.stringLit(lhs.Index)
		if err != nil {
			return nil, err
		}
		src, ok := n.Rhs[0].(*ast.Ident)
		if !ok {
			return nil, l.errorf(n, "stored value must be an identifier")
		}
		return func(e env) {
			if m, ok := e[target.Name].(map[string]any); ok {
				m[key] = e[src.Name]
			}
		}, nil

	case *ast.Ident:
		// list = append(list, e)
		call, ok := n.Rhs[0].(*ast.CallExpr)
		if !ok {
			return nil, l.errorf(n, "identifier assignment must be an append call")
		}
		fn, ok := call.Fun.(*ast.Ident)
		if !ok || fn.Name != "append" || len(call.Args) != 2 {
			return nil, l.errorf(n, "only two-argument append is supported")
		}
		listArg, ok := call.Args[0].(*ast.Ident)
		elemArg, ok2 := call.Args[1].(*ast.Ident)
		if !ok || !ok2 || listArg.Name != lhs.Name {
			return nil, l.errorf(n, "append must extend the assigned list")
		}
		return func(e env) {
			list, _ := e[lhs.Name].([]any)
			e[lhs.Name] = append(list, e[elemArg.Name])
		}, nil
	}
	return nil, l.errorf(n, "assignment target not in the generated dialect")
}

// lowerIf handles the guard shapes: `if v, ok := get(x, "seg"); ok`
// (optionally `&& v != nil`) and the call form.
func (l *lowerer) lowerIf(n *ast.IfStmt) (stmt, error) {
	if n.Else != nil {
		return nil, l.errorf(n, "else branches are not generated")
	}
	init, ok := n.Init.(*ast.AssignStmt)
	if !ok || init.Tok != token.DEFINE || len(init.Lhs) != 2 || len(init.Rhs) != 1 {
		return nil, l.errorf(n, "if guard must declare (value, ok)")
	}
	valIdent, ok := init.Lhs[0].(*ast.Ident)
	if !ok {
		return nil, l.errorf(n, "guard value must be an identifier")
	}
	okIdent, ok := init.Lhs[1].(*ast.Ident)
	if !ok || okIdent.Name != "ok" {
		return nil, l.errorf(n, "guard flag must be named ok")
	}

	fnName, srcName, segment, err := l.accessCall(init.Rhs[0])
	if err != nil {
		return nil, err
	}

	nilCheck, err := l.guardCond(n.Cond, valIdent.Name)
	if err != nil {
		return nil, err
	}

	body, err := l.lowerBlock(n.Body.List)
	if err != nil {
		return nil, err
	}

	lookup := access.TryGet
	if fnName == "call" {
		lookup = access.Call
	}
	valName := valIdent.Name
	return func(e env) {
		v, found := lookup(e[srcName], segment)
		if !found || (nilCheck && v == nil) {
			return
		}
		e[valName] = v
		for _, s := range body {
			s(e)
		}
	}, nil
}

// lowerRange handles `for _, item := range items(c) { ... }`.
func (l *lowerer) lowerRange(n *ast.RangeStmt) (stmt, error) {
	key, ok := n.Key.(*ast.Ident)
	if !ok || key.Name != "_" {
		return nil, l.errorf(n, "range index must be blank")
	}
	item, ok := n.Value.(*ast.Ident)
	if !ok || n.Tok != token.DEFINE {
		return nil, l.errorf(n, "range element must be a declared identifier")
	}
	call, ok := n.X.(*ast.CallExpr)
	if !ok {
		return nil, l.errorf(n, "range source must be an items call")
	}
	fn, ok := call.Fun.(*ast.Ident)
	if !ok || fn.Name != "items" || len(call.Args) != 1 {
		return nil, l.errorf(n, "range source must be items(collection)")
	}
	src, ok := call.Args[0].(*ast.Ident)
	if !ok {
		return nil, l.errorf(n, "items argument must be an identifier")
	}

	body, err := l.lowerBlock(n.Body.List)
	if err != nil {
		return nil, err
	}

	itemName := item.Name
	return func(e env) {
		for _, elem := range access.Collect(e[src.Name]) {
			e[itemName] = elem
			for _, s := range body {
				s(e)
			}
		}
	}, nil
}

// accessCall recognizes get(x, "seg") and call(x, "seg").
func (l *lowerer) accessCall(expr ast.Expr) (fnName, srcName, segment string, err error) {
	call, ok := expr.(*ast.CallExpr)
	if !ok {
		return "", "", "", l.errorf(expr, "guard initializer must be a get or call invocation")
	}
	fn, ok := call.Fun.(*ast.Ident)
	if !ok || (fn.Name != "get" && fn.Name != "call") || len(call.Args) != 2 {
		return "", "", "", l.errorf(expr, "guard initializer must be get(x, seg) or call(x, seg)")
	}
	src, ok := call.Args[0].(*ast.Ident)
	if !ok {
		return "", "", "", l.errorf(expr, "access source must be an identifier")
	}
	seg, err := l.stringLit(call.Args[1])
	if err != nil {
		return "", "", "", err
	}
	return fn.Name, src.Name, seg, nil
}

// guardCond recognizes `ok` and `ok && v != nil`, reporting whether the
// nil check is present.
func (l *lowerer) guardCond(cond ast.Expr, valName string) (bool, error) {
	switch c := cond.(type) {
	case *ast.Ident:
		if c.Name == "ok" {
			return false, nil
		}
	case *ast.BinaryExpr:
		if c.Op != token.LAND {
			break
		}
		left, ok := c.X.(*ast.Ident)
		if !ok || left.Name != "ok" {
			break
		}
		right, ok := c.Y.(*ast.BinaryExpr)
		if !ok || right.Op != token.NEQ {
			break
		}
		val, ok := right.X.(*ast.Ident)
		nilIdent, ok2 := right.Y.(*ast.Ident)
		if ok && ok2 && val.Name == valName && nilIdent.Name == "nil" {
			return true, nil
		}
	}
	return false, l.errorf(cond, "guard condition must be ok or ok && v != nil")
}

func (l *lowerer) stringLit(expr ast.Expr) (string, error) {
	lit, ok := expr.(*ast.BasicLit)
	if !ok || lit.Kind != token.STRING {
		return "", l.errorf(expr, "expected a string literal")
	}
	// Generated strings are plain quoted identifiers; strip the quotes.
	return lit.Value[1 : len(lit.Value)-1], nil
}
