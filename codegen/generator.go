// Package codegen generates serializer source text from attribute-access
// paths. Given a root type name and the paths a template actually reads,
// it emits a restricted Go dialect the compiler package lowers into an
// executable program: guarded field descent, method-call leaves, and
// collection expansion loops.
//
// Generation is deterministic: the same (type name, path set) always
// yields byte-identical source, and the function name carries a hash of
// the normalized path list so distinct path sets never collide.
package codegen

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/celox-dev/celox/pathtree"
)

// Artifact is the output of one generation run.
type Artifact struct {
	TypeName string
	FuncName string
	// Paths is the sorted, deduplicated path list the source was
	// generated from. Caching keys off this list.
	Paths  []string
	Source string
}

// Generator emits serializer source into an internal buffer.
type Generator struct {
	buf    *bytes.Buffer
	indent int
	nextID int
}

// NewGenerator creates a new code generator.
func NewGenerator() *Generator {
	return &Generator{buf: &bytes.Buffer{}}
}

// Generate produces the serializer source for typeName over paths.
// Duplicate paths collapse and input order is irrelevant; an empty path
// list generates a function that returns an empty mapping.
func Generate(typeName string, paths []string) (*Artifact, error) {
	return NewGenerator().Generate(typeName, paths)
}

// Generate is the method form of the package-level Generate.
func (g *Generator) Generate(typeName string, paths []string) (*Artifact, error) {
	if typeName == "" {
		return nil, fmt.Errorf("codegen: type name is required")
	}

	normalized := pathtree.Normalize(paths)
	funcName := FuncName(typeName, normalized)
	tree := pathtree.Build(normalized)

	g.buf.Reset()
	g.indent = 0
	g.nextID = 0

	g.writeHeader(typeName, normalized)
	g.writeLine("package serializers")
	g.writeLine("")
	g.writeLine("func %s(obj any) map[string]any {", funcName)
	g.indent++
	if len(tree) == 0 {
		g.writeLine("return map[string]any{}")
	} else {
		g.writeLine("result := map[string]any{}")
		for _, segment := range tree.SortedKeys() {
			g.writeBranch("obj", "result", segment, tree[segment])
		}
		g.writeLine("return result")
	}
	g.indent--
	g.writeLine("}")

	return &Artifact{
		TypeName: typeName,
		FuncName: funcName,
		Paths:    normalized,
		Source:   g.buf.String(),
	}, nil
}

// FuncName derives the deterministic serializer function name for a
// type and path set: serialize<Type>_<first 8 hex of the path hash>.
func FuncName(typeName string, paths []string) string {
	return "serialize" + exportName(typeName) + "_" + PathHash(paths)[:8]
}

// PathHash hashes the normalized path list. Two path sets share a hash
// only if they normalize to the same list.
func PathHash(paths []string) string {
	sum := sha256.Sum256([]byte(strings.Join(pathtree.Normalize(paths), "\n")))
	return hex.EncodeToString(sum[:])
}

// writeBranch emits the extraction code for one tree node. src is the
// variable holding the current object, dst the mapping being filled.
func (g *Generator) writeBranch(src, dst, segment string, subtree pathtree.Tree) {
	switch {
	case subtree.IsLeaf() && isRetrieval(segment):
		// Method-style leaf: invoke, discard the field on any failure.
		v := g.fresh("v")
		g.writeLine("if %s, ok := call(%s, %q); ok {", v, src, segment)
		g.indent++
		g.writeLine("%s[%q] = %s", dst, segment, v)
		g.indent--
		g.writeLine("}")

	case subtree.IsLeaf():
		// Plain leaf: present-but-nil is kept as nil.
		v := g.fresh("v")
		g.writeLine("if %s, ok := get(%s, %q); ok {", v, src, segment)
		g.indent++
		g.writeLine("%s[%q] = %s", dst, segment, v)
		g.indent--
		g.writeLine("}")

	case isRetrieval(segment):
		// Collection expansion: invoke once, apply the subtree to every
		// element. A failed or empty retrieval yields an empty list.
		list := g.fresh("list")
		c := g.fresh("c")
		item := g.fresh("item")
		elem := g.fresh("e")
		g.writeLine("%s := []any{}", list)
		g.writeLine("if %s, ok := call(%s, %q); ok {", c, src, segment)
		g.indent++
		g.writeLine("for _, %s := range items(%s) {", item, c)
		g.indent++
		g.writeLine("%s := map[string]any{}", elem)
		for _, child := range subtree.SortedKeys() {
			g.writeBranch(item, elem, child, subtree[child])
		}
		g.writeLine("%s = append(%s, %s)", list, list, elem)
		g.indent--
		g.writeLine("}")
		g.indent--
		g.writeLine("}")
		g.writeLine("%s[%q] = %s", dst, segment, list)

	default:
		// Guarded descent: read deeper only if the segment exists and
		// its value is not nil; otherwise the whole branch is skipped.
		v := g.fresh("v")
		m := g.fresh("m")
		g.writeLine("if %s, ok := get(%s, %q); ok && %s != nil {", v, src, segment, v)
		g.indent++
		g.writeLine("%s := map[string]any{}", m)
		for _, child := range subtree.SortedKeys() {
			g.writeBranch(v, m, child, subtree[child])
		}
		g.writeLine("%s[%q] = %s", dst, segment, m)
		g.indent--
		g.writeLine("}")
	}
}

func (g *Generator) writeHeader(typeName string, paths []string) {
	g.writeLine("// Code generated for %s. DO NOT EDIT.", typeName)
	g.writeLine("// Paths:")
	for _, p := range paths {
		g.writeLine("//   %s", p)
	}
	if len(paths) == 0 {
		g.writeLine("//   (none)")
	}
}

func (g *Generator) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if line != "" {
		g.buf.WriteString(strings.Repeat("\t", g.indent))
	}
	g.buf.WriteString(line)
	g.buf.WriteString("\n")
}

// fresh returns a unique variable name with the given prefix.
func (g *Generator) fresh(prefix string) string {
	g.nextID++
	return fmt.Sprintf("%s%d", prefix, g.nextID)
}

// isRetrieval reports whether a segment names a callable retrieval: a
// get_*-shaped getter or the conventional collection accessor.
func isRetrieval(segment string) bool {
	return strings.HasPrefix(segment, "get_") || segment == "all"
}

// exportName converts a type name to its exported identifier form.
func exportName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == ' '
	})
	var b strings.Builder
	for _, p := range parts {
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}
