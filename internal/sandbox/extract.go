package sandbox

import (
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
)

// underscoreAccess matches a dotted attribute/field access whose final
// segment starts with an underscore, e.g. `obj._private`. yaegi's
// symbol-table allow-listing restricts which *packages* a script can
// import, but it has no notion of "private field" the way a compiled
// Go package boundary would; a script could otherwise reach into an
// injected capability value's unexported internals through reflection-free
// plain field access. This guard rejects that source pattern outright
// before the script is ever handed to the interpreter.
var underscoreAccess = regexp.MustCompile(`\.\s*_[A-Za-z0-9_]*`)

// HasUnderscoreAccess reports whether src contains a dotted access into
// an underscore-prefixed identifier.
func HasUnderscoreAccess(src string) bool {
	return underscoreAccess.MatchString(src)
}

// TopLevelNames statically parses src (a yaegi REPL-style fragment,
// which yaegi allows as bare top-level statements without a surrounding
// func body) and returns the names bound by `:=`, `=`, `var`, and `const`
// statements, in first-appearance order. Statements in nested blocks and
// function literals are walked too, so the list can include names that
// are not top-level; Execute drops any name the interpreter cannot
// resolve after Eval.
//
// yaegi has no public API to enumerate the globals a script created, so
// the output variable bag (§4.5 point 3) is recovered by parsing the
// source ourselves to learn which names to ask the interpreter for after
// Eval returns.
func TopLevelNames(src string) ([]string, error) {
	fset := token.NewFileSet()
	// yaegi accepts bare statements; go/parser requires a package body,
	// so wrap defensively. ParseFile with a synthetic package directive
	// tolerates scripts that already declare their own "package main".
	file, err := parser.ParseFile(fset, "script.go", wrapForParsing(src), parser.AllErrors)
	if err != nil {
		// Source that go/parser cannot parse even when wrapped yields no
		// names; the caller treats this as "no declared output" rather
		// than failing the whole execution.
		return nil, err
	}

	seen := make(map[string]struct{})
	var names []string
	record := func(name string) {
		if name == "" || name == "_" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	ast.Inspect(file, func(n ast.Node) bool {
		switch stmt := n.(type) {
		case *ast.AssignStmt:
			if stmt.Tok == token.DEFINE || stmt.Tok == token.ASSIGN {
				for _, lhs := range stmt.Lhs {
					if ident, ok := lhs.(*ast.Ident); ok {
						record(ident.Name)
					}
				}
			}
		case *ast.GenDecl:
			if stmt.Tok == token.VAR || stmt.Tok == token.CONST {
				for _, spec := range stmt.Specs {
					if vs, ok := spec.(*ast.ValueSpec); ok {
						for _, ident := range vs.Names {
							record(ident.Name)
						}
					}
				}
			}
		}
		return true
	})
	return names, nil
}

// wrapForParsing wraps a bare yaegi statement fragment in a synthetic
// function body so go/parser can build a valid AST from it, unless src
// already declares its own package (in which case it is parsed as-is).
func wrapForParsing(src string) string {
	if hasPackageClause(src) {
		return src
	}
	return "package script\nfunc __script__() {\n" + src + "\n}\n"
}

var packageClause = regexp.MustCompile(`(?m)^\s*package\s+\w+`)

func hasPackageClause(src string) bool {
	return packageClause.MatchString(src)
}
