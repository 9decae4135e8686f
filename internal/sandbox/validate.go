// internal/sandbox/validate.go
package sandbox

import (
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// allowedImports are the only stdlib packages a script may use. None of them
// reach the filesystem, network, environment or clock.
var allowedImports = map[string]bool{
	"errors":       true,
	"fmt":          true,
	"math":         true,
	"sort":         true,
	"strconv":      true,
	"strings":      true,
	"unicode":      true,
	"unicode/utf8": true,
}

// allowedSymbols is the subset of yaegi's stdlib table matching allowedImports
var allowedSymbols = allowedExports(stdlib.Symbols)

func allowedExports(symbols interp.Exports) interp.Exports {
	out := interp.Exports{}
	for key, syms := range symbols {
		// "." carries the interface wrappers, every other key looks like "unicode/utf8/utf8"
		if key == "." {
			out[key] = syms
			continue
		}
		i := strings.LastIndex(key, "/")
		if i < 0 {
			continue
		}
		if allowedImports[key[:i]] {
			out[key] = syms
		}
	}
	return out
}

// entrypoint is appended to every script so the interpreter can call Decide
// with the injected context
const entrypoint = "leafdocEntrypoint"

// checked is what validation learned about a script
type checked struct {
	// qualifier is how the script refers to the capability package ("" for a dot import)
	qualifier string
}

// validate statically rejects scripts before any interpretation happens
func validate(src string, maxBytes int) (*checked, error) {
	if maxBytes > 0 && len(src) > maxBytes {
		return nil, failf(KindSyntax, "script is %d bytes, limit is %d", len(src), maxBytes)
	}
	if strings.TrimSpace(src) == "" {
		return nil, failf(KindSyntax, "script is empty")
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "decide.go", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, &Error{Kind: KindSyntax, Err: err}
	}
	if file.Name.Name != "main" {
		return nil, failf(KindSyntax, "script must be package main, got %s", file.Name.Name)
	}

	c := &checked{}
	var sawCapability bool
	var forbidden []string
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return nil, &Error{Kind: KindSyntax, Err: err}
		}
		if path == CapabilityPackage {
			switch {
			case imp.Name == nil:
				c.qualifier = CapabilityPackage + "."
			case imp.Name.Name == ".":
				c.qualifier = ""
			case imp.Name.Name == "_":
				return nil, failf(KindSyntax, "%s cannot be a blank import", CapabilityPackage)
			default:
				c.qualifier = imp.Name.Name + "."
			}
			sawCapability = true
			continue
		}
		if !allowedImports[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		return nil, failf(KindSyntax, "forbidden imports %v (allowed: %s, %s)",
			forbidden, CapabilityPackage, strings.Join(allowedImportList(), ", "))
	}
	if !sawCapability {
		return nil, failf(KindSyntax, "script must import %q", CapabilityPackage)
	}

	var goStmt *ast.GoStmt
	ast.Inspect(file, func(n ast.Node) bool {
		if g, ok := n.(*ast.GoStmt); ok && goStmt == nil {
			goStmt = g
		}
		return goStmt == nil
	})
	if goStmt != nil {
		return nil, failf(KindSyntax, "%s: go statements are not allowed", fset.Position(goStmt.Pos()))
	}

	var decide *ast.FuncDecl
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		switch fn.Name.Name {
		case "Decide":
			decide = fn
		case entrypoint:
			return nil, failf(KindSyntax, "%s is a reserved name", entrypoint)
		}
	}
	if decide == nil {
		return nil, failf(KindSyntax, "script must define func Decide(%sContext) %sAction", c.qualifier, c.qualifier)
	}
	if decide.Type.Params.NumFields() != 1 || decide.Type.Results.NumFields() != 1 {
		return nil, failf(KindSyntax, "Decide must take one Context and return one Action")
	}
	return c, nil
}

// wrap appends the entrypoint that feeds the injected context to Decide
func (c *checked) wrap(src string) string {
	return src + "\n\nfunc " + entrypoint + "() " + c.qualifier + "Action { return Decide(" + c.qualifier + "Input()) }\n"
}

func allowedImportList() []string {
	out := make([]string, 0, len(allowedImports))
	for p := range allowedImports {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
