package sandbox

import (
	"strings"
)

// Statement is one statement of a script, as cut by Split.
type Statement struct {
	// Index is the zero based position in the script.
	Index int
	// SQL is the statement text without the terminating semicolon.
	SQL string
	// Line is the one based line on which the statement starts.
	Line int

	// words holds the upper cased bare words outside literals and comments.
	words []string
	// follows holds, per word, the first byte after it that is not a space.
	// Zero at the end of the statement.
	follows []byte
}

// Keyword returns the leading keyword of the statement.
func (s Statement) Keyword() string {
	if len(s.words) == 0 {
		return ""
	}
	return s.words[0]
}

// next returns the byte that follows word i, or zero.
func (s Statement) next(i int) byte {
	if i < 0 || i >= len(s.follows) {
		return 0
	}
	return s.follows[i]
}

// Words returns the upper cased bare words of the statement.
func (s Statement) Words() []string {
	return s.words
}

var rowReturningKeywords = map[string]struct{}{
	"SELECT":   {},
	"WITH":     {},
	"VALUES":   {},
	"PRAGMA":   {},
	"EXPLAIN":  {},
	"SHOW":     {},
	"DESCRIBE": {},
	"DESC":     {},
	"TABLE":    {},
}

// ReturnsRows reports whether the statement produces a result set.
func (s Statement) ReturnsRows() bool {
	if _, ok := rowReturningKeywords[s.Keyword()]; ok {
		return true
	}
	for _, w := range s.words {
		if w == "RETURNING" {
			return true
		}
	}
	return false
}

// Split cuts script into statements on top level semicolons. Semicolons inside
// string literals, quoted identifiers, comments, dollar quoted bodies and
// trigger or routine blocks do not terminate a statement. Statements with no
// content besides whitespace and comments are dropped.
func Split(dialect Dialect, script string) []Statement {
	sp := splitter{dialect: dialect, src: script, line: 1}
	return sp.run()
}

type splitter struct {
	dialect Dialect
	src     string
	pos     int
	line    int

	out []Statement

	start      int
	startLine  int
	hasContent bool
	words      []string
	follows    []byte
	blockable  bool
	depth      int
}

func (sp *splitter) run() []Statement {
	sp.reset()
	for sp.pos < len(sp.src) {
		ch := sp.src[sp.pos]
		switch {
		case ch == '\n':
			sp.line++
			sp.pos++
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\f' || ch == '\v':
			sp.pos++
		case ch == '-' && sp.peek(1) == '-':
			sp.skipLine()
		case ch == '#' && sp.dialect == DialectMySQL:
			sp.skipLine()
		case ch == '/' && sp.peek(1) == '*':
			sp.skipBlockComment()
		case ch == ';':
			if sp.depth > 0 {
				sp.mark()
				sp.pos++
				continue
			}
			sp.emit(sp.pos)
			sp.pos++
			sp.reset()
		case ch == '\'':
			sp.mark()
			sp.skipQuoted('\'', sp.dialect == DialectMySQL)
		case ch == '"':
			sp.mark()
			sp.skipQuoted('"', sp.dialect == DialectMySQL)
		case ch == '`' && sp.dialect != DialectPostgres:
			sp.mark()
			sp.skipQuoted('`', false)
		case ch == '[' && sp.dialect == DialectSQLite:
			sp.mark()
			sp.skipQuoted(']', false)
		case ch == '$' && sp.dialect == DialectPostgres:
			sp.mark()
			if !sp.skipDollarQuoted() {
				sp.pos++
			}
		case isWordStart(ch, sp.dialect):
			sp.mark()
			sp.word()
		default:
			sp.mark()
			sp.pos++
		}
	}
	sp.emit(len(sp.src))
	return sp.out
}

func (sp *splitter) peek(offset int) byte {
	if sp.pos+offset >= len(sp.src) {
		return 0
	}
	return sp.src[sp.pos+offset]
}

func (sp *splitter) reset() {
	sp.hasContent = false
	sp.words = nil
	sp.follows = nil
	sp.blockable = false
	sp.depth = 0
}

// mark records that the current statement has real content starting here.
func (sp *splitter) mark() {
	if !sp.hasContent {
		sp.hasContent = true
		sp.start = sp.pos
		sp.startLine = sp.line
	}
}

func (sp *splitter) emit(end int) {
	if !sp.hasContent {
		return
	}
	text := strings.TrimSpace(sp.src[sp.start:end])
	sp.out = append(sp.out, Statement{
		Index: len(sp.out),
		SQL:   text,
		Line:  sp.startLine,
		words:   sp.words,
		follows: sp.follows,
	})
}

func (sp *splitter) skipLine() {
	for sp.pos < len(sp.src) && sp.src[sp.pos] != '\n' {
		sp.pos++
	}
}

func (sp *splitter) skipBlockComment() {
	sp.pos += 2
	for sp.pos < len(sp.src) {
		if sp.src[sp.pos] == '*' && sp.peek(1) == '/' {
			sp.pos += 2
			return
		}
		if sp.src[sp.pos] == '\n' {
			sp.line++
		}
		sp.pos++
	}
}

// skipQuoted consumes a literal that opened at the current position and is
// closed by the given byte. A doubled closing byte is an escaped one.
func (sp *splitter) skipQuoted(closing byte, backslashEscapes bool) {
	sp.pos++
	for sp.pos < len(sp.src) {
		ch := sp.src[sp.pos]
		switch {
		case ch == '\n':
			sp.line++
		case backslashEscapes && ch == '\\':
			if sp.peek(1) == '\n' {
				sp.line++
			}
			sp.pos += 2
			continue
		case ch == closing:
			if sp.peek(1) == closing {
				sp.pos += 2
				continue
			}
			sp.pos++
			return
		}
		sp.pos++
	}
}

// skipDollarQuoted consumes a $tag$...$tag$ body. It reports false when the
// dollar sign does not open one, as with positional parameters.
func (sp *splitter) skipDollarQuoted() bool {
	end := sp.pos + 1
	for end < len(sp.src) && sp.src[end] != '$' {
		ch := sp.src[end]
		if !(isLetter(ch) || ch == '_' || (end > sp.pos+1 && isDigit(ch))) {
			return false
		}
		end++
	}
	if end >= len(sp.src) {
		return false
	}
	tag := sp.src[sp.pos : end+1]
	body := end + 1
	closeAt := strings.Index(sp.src[body:], tag)
	if closeAt < 0 {
		sp.line += strings.Count(sp.src[body:], "\n")
		sp.pos = len(sp.src)
		return true
	}
	sp.line += strings.Count(sp.src[body:body+closeAt], "\n")
	sp.pos = body + closeAt + len(tag)
	return true
}

func (sp *splitter) word() {
	begin := sp.pos
	for sp.pos < len(sp.src) && isWordChar(sp.src[sp.pos], sp.dialect) {
		sp.pos++
	}
	w := strings.ToUpper(sp.src[begin:sp.pos])
	sp.words = append(sp.words, w)
	sp.follows = append(sp.follows, sp.nextByte())
	sp.track(w)
}

// nextByte returns the first byte after the current position that is not a
// space, or zero at a statement end.
func (sp *splitter) nextByte() byte {
	for i := sp.pos; i < len(sp.src); i++ {
		switch ch := sp.src[i]; ch {
		case ' ', '\t', '\n', '\r', '\f', '\v':
		case ';':
			return 0
		default:
			return ch
		}
	}
	return 0
}

// track follows BEGIN/CASE ... END nesting inside trigger and routine bodies.
func (sp *splitter) track(w string) {
	if !sp.blockable {
		if len(sp.words) > 1 && len(sp.words) <= 8 && sp.words[0] == "CREATE" {
			switch w {
			case "TRIGGER", "PROCEDURE", "FUNCTION", "EVENT":
				sp.blockable = true
			}
		}
		return
	}
	switch w {
	case "BEGIN", "CASE":
		sp.depth++
	case "END":
		if sp.depth == 0 {
			return
		}
		switch sp.nextWord() {
		case "IF", "LOOP", "WHILE", "REPEAT":
			return
		}
		sp.depth--
	}
}

// nextWord peeks at the bare word following the current position.
func (sp *splitter) nextWord() string {
	i := sp.pos
	for i < len(sp.src) && (sp.src[i] == ' ' || sp.src[i] == '\t' || sp.src[i] == '\n' || sp.src[i] == '\r') {
		i++
	}
	j := i
	for j < len(sp.src) && isWordChar(sp.src[j], sp.dialect) {
		j++
	}
	return strings.ToUpper(sp.src[i:j])
}

func isLetter(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isWordStart(ch byte, dialect Dialect) bool {
	return isLetter(ch) || ch == '_' || (dialect == DialectMySQL && ch == '@')
}

func isWordChar(ch byte, dialect Dialect) bool {
	if isLetter(ch) || isDigit(ch) || ch == '_' {
		return true
	}
	switch ch {
	case '$':
		return true
	case '@':
		return dialect == DialectMySQL
	}
	return false
}
