package engine

import (
	"strings"
	"unicode/utf8"
)

// Import is an import or include statement found in a Typst source.
type Import struct {
	Target  string
	Include bool
	// Line and Column are 1-based and locate the keyword; Column counts
	// runes.
	Line, Column int
}

// IsPackage reports whether the target names a registry package.
func (i Import) IsPackage() bool { return strings.HasPrefix(i.Target, "@") }

// Keywords that start an embedded statement running to the end of the line.
var lineStatements = map[string]bool{
	"let": true, "set": true, "show": true, "if": true, "for": true,
	"while": true, "return": true, "context": true,
}

// frame is one level of markup/code nesting. closer is the byte that ends
// it; '\n' marks an embedded statement that also ends at ';'.
type frame struct {
	code   bool
	closer byte
	// depth counts plain brackets opened inside a markup frame.
	depth int
}

type importScanner struct {
	src   string
	pos   int
	stack []frame
	found []Import
}

// ScanImports returns every import and include statement in source, in
// order. Comments, raw text and string literals are skipped, so a commented
// or quoted statement is never reported.
func ScanImports(source string) []Import {
	s := &importScanner{src: source, stack: []frame{{}}}
	for s.pos < len(s.src) {
		if s.top().code {
			s.code()
		} else {
			s.markup()
		}
	}
	return s.found
}

func (s *importScanner) top() *frame { return &s.stack[len(s.stack)-1] }

func (s *importScanner) push(f frame) { s.stack = append(s.stack, f) }

func (s *importScanner) pop() {
	if len(s.stack) > 1 {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

func (s *importScanner) markup() {
	c := s.src[s.pos]
	switch {
	case c == '\\':
		s.pos += 2
	case s.atComment(true):
		s.skipComment()
	case c == '`':
		s.skipRaw()
	case c == '#':
		s.pos++
		s.embedded()
	case c == '[':
		s.top().depth++
		s.pos++
	case c == ']':
		s.pos++
		if f := s.top(); f.depth > 0 {
			f.depth--
		} else if f.closer == ']' {
			s.pop()
		}
	default:
		s.pos++
	}
}

// embedded handles the expression following a '#' in markup.
func (s *importScanner) embedded() {
	if s.pos >= len(s.src) {
		return
	}
	switch c := s.src[s.pos]; {
	case c == '{':
		s.pos++
		s.push(frame{code: true, closer: '}'})
	case c == '(':
		s.pos++
		s.push(frame{code: true, closer: ')'})
	case isIdentStart(c):
		at := s.pos
		word := s.ident()
		switch {
		case word == "import" || word == "include":
			s.statement(word, at)
			s.push(frame{code: true, closer: '\n'})
		case lineStatements[word]:
			s.push(frame{code: true, closer: '\n'})
		default:
			for s.pos+1 < len(s.src) && s.src[s.pos] == '.' && isIdentStart(s.src[s.pos+1]) {
				s.pos++
				s.ident()
			}
			if s.pos < len(s.src) && s.src[s.pos] == '(' {
				s.pos++
				s.push(frame{code: true, closer: ')'})
			}
		}
	}
}

func (s *importScanner) code() {
	c := s.src[s.pos]
	switch {
	case s.top().closer == '\n' && (c == '\n' || c == ';'):
		s.pos++
		s.pop()
	case s.atComment(false):
		s.skipComment()
	case c == '`':
		s.skipRaw()
	case c == '"':
		s.readString()
	case c == '{':
		s.pos++
		s.push(frame{code: true, closer: '}'})
	case c == '(':
		s.pos++
		s.push(frame{code: true, closer: ')'})
	case c == '[':
		s.pos++
		s.push(frame{closer: ']'})
	case c == '}' || c == ')' || c == ']':
		s.pos++
		for s.top().closer == '\n' && len(s.stack) > 1 {
			s.pop()
		}
		if s.top().closer == c {
			s.pop()
		}
	case isIdentStart(c):
		at := s.pos
		word := s.ident()
		field := at > 0 && s.src[at-1] == '.'
		if !field && (word == "import" || word == "include") {
			s.statement(word, at)
		}
	default:
		s.pos++
	}
}

// statement records the path of an import or include whose keyword starts
// at offset at. Dynamic targets are not reported.
func (s *importScanner) statement(keyword string, at int) {
	for s.pos < len(s.src) && (s.src[s.pos] == ' ' || s.src[s.pos] == '\t') {
		s.pos++
	}
	if s.pos >= len(s.src) || s.src[s.pos] != '"' {
		return
	}
	target := s.readString()
	line, column := s.position(at)
	s.found = append(s.found, Import{
		Target:  target,
		Include: keyword == "include",
		Line:    line,
		Column:  column,
	})
}

// atComment reports whether a comment starts at pos. In markup a "//"
// right after ':' is part of a URL.
func (s *importScanner) atComment(markup bool) bool {
	if s.pos+1 >= len(s.src) || s.src[s.pos] != '/' {
		return false
	}
	switch s.src[s.pos+1] {
	case '*':
		return true
	case '/':
		return !(markup && s.pos > 0 && s.src[s.pos-1] == ':')
	}
	return false
}

// skipComment skips a line comment, leaving the newline, or a block
// comment, which may nest.
func (s *importScanner) skipComment() {
	if s.src[s.pos+1] == '/' {
		if end := strings.IndexByte(s.src[s.pos:], '\n'); end >= 0 {
			s.pos += end
		} else {
			s.pos = len(s.src)
		}
		return
	}

	depth := 0
	for s.pos < len(s.src) {
		switch {
		case strings.HasPrefix(s.src[s.pos:], "/*"):
			depth++
			s.pos += 2
		case strings.HasPrefix(s.src[s.pos:], "*/"):
			depth--
			s.pos += 2
			if depth == 0 {
				return
			}
		default:
			s.pos++
		}
	}
}

// skipRaw skips raw text opened by a run of backticks. Two backticks are
// an empty raw; otherwise the same run closes it.
func (s *importScanner) skipRaw() {
	n := 0
	for s.pos+n < len(s.src) && s.src[s.pos+n] == '`' {
		n++
	}
	s.pos += n
	if n == 2 {
		return
	}
	end := strings.Index(s.src[s.pos:], strings.Repeat("`", n))
	if end < 0 {
		s.pos = len(s.src)
		return
	}
	s.pos += end + n
}

// readString consumes a string literal starting at the opening quote and
// returns its contents with backslash escapes resolved.
func (s *importScanner) readString() string {
	s.pos++
	var b strings.Builder
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\\' && s.pos+1 < len(s.src):
			switch e := s.src[s.pos+1]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(e)
			}
			s.pos += 2
		case c == '"':
			s.pos++
			return b.String()
		default:
			b.WriteByte(c)
			s.pos++
		}
	}
	return b.String()
}

func (s *importScanner) ident() string {
	start := s.pos
	for s.pos < len(s.src) && isIdentPart(s.src[s.pos]) {
		s.pos++
	}
	return s.src[start:s.pos]
}

func (s *importScanner) position(off int) (line, column int) {
	before := s.src[:off]
	line = 1 + strings.Count(before, "\n")
	lineStart := strings.LastIndexByte(before, '\n') + 1
	return line, utf8.RuneCountInString(before[lineStart:]) + 1
}

// Bytes above ASCII belong to multi-byte letters, which Typst allows in
// identifiers.
func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= utf8.RuneSelf
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c == '-' || c >= '0' && c <= '9'
}
