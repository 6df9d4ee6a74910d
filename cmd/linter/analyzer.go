// Implements a static analysis check for code that can take down the host
// process the agent is embedded in:
// 1. calls to the built-in panic() outside test files
// 2. calls to log.Fatal*, log.Panic* or os.Exit anywhere but main.main
package main

import (
	"go/ast"
	"go/types"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/ast/inspector"
)

// Analyzer reports calls that terminate or unwind the whole process.
var Analyzer = &analysis.Analyzer{
	Name: "panicexit",
	Doc:  "reports panic, log.Fatal/log.Panic and os.Exit calls outside of main.main",
	Run:  run,
	Requires: []*analysis.Analyzer{
		inspect.Analyzer,
	},
}

// exitFuncs lists the package-level functions allowed only in main.main.
var exitFuncs = map[string]map[string]bool{
	"log": {
		"Fatal": true, "Fatalf": true, "Fatalln": true,
		"Panic": true, "Panicf": true, "Panicln": true,
	},
	"os": {"Exit": true},
}

func run(pass *analysis.Pass) (interface{}, error) {
	inspect := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)

	nodeFilter := []ast.Node{
		(*ast.FuncDecl)(nil),
		(*ast.FuncLit)(nil),
		(*ast.CallExpr)(nil),
	}

	inspect.WithStack(nodeFilter, func(n ast.Node, push bool, stack []ast.Node) bool {
		if !push {
			return true
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if isTestFile(pass, call) {
			return true
		}

		if isBuiltinPanic(pass, call) {
			pass.Reportf(call.Pos(), "found usage of panic")
			return true
		}

		name, ok := exitCall(pass, call)
		if ok && !inMainFunc(pass, stack) {
			pass.Reportf(call.Pos(), "found usage of %s outside of main function", name)
		}
		return true
	})

	return nil, nil
}

func isTestFile(pass *analysis.Pass, node ast.Node) bool {
	return strings.HasSuffix(pass.Fset.Position(node.Pos()).Filename, "_test.go")
}

func isBuiltinPanic(pass *analysis.Pass, call *ast.CallExpr) bool {
	ident, ok := call.Fun.(*ast.Ident)
	if !ok || ident.Name != "panic" {
		return false
	}
	_, builtin := pass.TypesInfo.Uses[ident].(*types.Builtin)
	return builtin
}

// exitCall resolves pkg.Func calls through the type checker so a local
// variable named log or os is not mistaken for the package.
func exitCall(pass *analysis.Pass, call *ast.CallExpr) (string, bool) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return "", false
	}
	ident, ok := sel.X.(*ast.Ident)
	if !ok {
		return "", false
	}
	pkgName, ok := pass.TypesInfo.Uses[ident].(*types.PkgName)
	if !ok {
		return "", false
	}
	path := pkgName.Imported().Path()
	if !exitFuncs[path][sel.Sel.Name] {
		return "", false
	}
	return path + "." + sel.Sel.Name, true
}

// inMainFunc reports whether the innermost named function on the stack is
// main.main. Closures inside main count as main.
func inMainFunc(pass *analysis.Pass, stack []ast.Node) bool {
	if pass.Pkg.Name() != "main" {
		return false
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if decl, ok := stack[i].(*ast.FuncDecl); ok {
			return decl.Recv == nil && decl.Name.Name == "main"
		}
	}
	return false
}
