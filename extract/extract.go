// Package extract maps template text to the attribute-access paths
// each context variable uses. It scans {{ ... }} variable blocks and
// {% ... %} tag blocks, skipping comments, string and numeric
// literals, filter expressions, and tag keywords, and attributes
// for-loop alias accesses back to the iterated collection.
package extract

import (
	"strings"
)

// tag keywords and builtin literals that never name context variables.
var keywords = map[string]bool{
	"if": true, "elif": true, "else": true, "endif": true,
	"for": true, "in": true, "endfor": true, "empty": true,
	"and": true, "or": true, "not": true,
	"with": true, "endwith": true,
	"block": true, "endblock": true, "extends": true, "include": true,
	"load": true, "url": true, "static": true, "csrf_token": true,
	"as": true, "true": true, "false": true, "none": true, "null": true,
	"True": true, "False": true, "None": true,
}

// Extractor is the built-in reference implementation of the variable
// extractor contract. It is stateless and safe for concurrent use.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract implements the extractor contract for the orchestrator.
func (e *Extractor) Extract(template string) (map[string][]string, error) {
	return Extract(template)
}

// Extract returns {root variable -> dotted sub-paths} for every
// variable the template reads. Sub-paths deduplicate preserving
// first-seen order; a bare variable reference records the root with no
// sub-path.
func Extract(template string) (map[string][]string, error) {
	s := &scanner{
		vars:    make(map[string][]string),
		seen:    make(map[string]map[string]bool),
		order:   []string{},
		aliases: make(map[string]string),
	}

	for i := 0; i < len(template); {
		switch {
		case strings.HasPrefix(template[i:], "{#"):
			end := strings.Index(template[i+2:], "#}")
			if end < 0 {
				i = len(template)
				break
			}
			i += 2 + end + 2

		case strings.HasPrefix(template[i:], "{{"):
			end := strings.Index(template[i+2:], "}}")
			if end < 0 {
				i = len(template)
				break
			}
			s.scanBlock(template[i+2:i+2+end], false)
			i += 2 + end + 2

		case strings.HasPrefix(template[i:], "{%"):
			end := strings.Index(template[i+2:], "%}")
			if end < 0 {
				i = len(template)
				break
			}
			s.scanBlock(template[i+2:i+2+end], true)
			i += 2 + end + 2

		default:
			i++
		}
	}

	result := make(map[string][]string, len(s.order))
	for _, root := range s.order {
		result[root] = s.vars[root]
	}
	return result, nil
}

type scanner struct {
	vars  map[string][]string
	seen  map[string]map[string]bool
	order []string

	// aliases maps a for-loop variable to the collection it iterates;
	// alias accesses are attributed to the collection under its "all"
	// hop.
	aliases map[string]string
}

// scanBlock tokenizes one {{ }} or {% %} block body.
func (s *scanner) scanBlock(body string, isTag bool) {
	tokens := tokenize(body)

	if isTag && len(tokens) > 0 {
		switch tokens[0] {
		case "for":
			// {% for x in items %}
			if len(tokens) >= 4 && tokens[2] == "in" {
				collection := tokens[3]
				root, _, _ := strings.Cut(collection, ".")
				if !keywords[root] {
					s.aliases[tokens[1]] = collection
					s.record(collection)
				}
			}
			return
		case "endfor":
			// Simple templates rarely nest loops over the same alias;
			// wholesale reset keeps the scanner state bounded.
			return
		case "load", "extends", "include", "block", "url", "static":
			return
		}
	}

	for _, tok := range tokens {
		s.record(tok)
	}
}

// record attributes one dotted identifier chain. Loop aliases resolve
// transitively: x.name on {% for x in items %} reads items' elements
// through the collection's "all" hop, and nested loops chain until the
// root is a real context variable.
func (s *scanner) record(chain string) {
	for hops := 0; hops <= len(s.aliases); hops++ {
		root, rest, _ := strings.Cut(chain, ".")
		if root == "" || keywords[root] {
			return
		}
		collection, ok := s.aliases[root]
		if !ok {
			s.add(root, rest)
			return
		}
		chain = collection + ".all"
		if rest != "" {
			chain += "." + rest
		}
	}
}

func (s *scanner) add(root, sub string) {
	if s.seen[root] == nil {
		s.seen[root] = make(map[string]bool)
		s.order = append(s.order, root)
		if s.vars[root] == nil {
			s.vars[root] = []string{}
		}
	}
	if sub == "" || s.seen[root][sub] {
		return
	}
	s.seen[root][sub] = true
	s.vars[root] = append(s.vars[root], sub)
}

// tokenize splits a block body into dotted identifier chains, skipping
// string literals, numbers, and everything after a filter pipe within
// the same expression.
func tokenize(body string) []string {
	var tokens []string
	inFilter := false

	for i := 0; i < len(body); {
		c := body[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			// Whitespace ends the filter context of one expression.
			inFilter = false
			i++

		case c == '\'' || c == '"':
			i = skipString(body, i)

		case c == '|':
			inFilter = true
			i++

		case c == ':':
			// Filter argument separator; the argument is consumed by
			// the literal/identifier cases while inFilter holds.
			i++

		case c >= '0' && c <= '9':
			for i < len(body) && (isIdentChar(body[i]) || body[i] == '.') {
				i++
			}

		case isIdentStart(c):
			start := i
			for i < len(body) && (isIdentChar(body[i]) || body[i] == '.') {
				i++
			}
			if !inFilter {
				tokens = append(tokens, strings.Trim(body[start:i], "."))
			}

		default:
			i++
		}
	}
	return tokens
}

func skipString(body string, i int) int {
	quote := body[i]
	i++
	for i < len(body) {
		if body[i] == '\\' {
			i += 2
			continue
		}
		if body[i] == quote {
			return i + 1
		}
		i++
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
