package milasm

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// token is a lexical token kind.
type token int

const (
	_EOF token = iota
	_Newline
	_Name   // identifier, register, or mnemonic
	_Int    // decimal or hex integer
	_Float  // decimal float
	_String // quoted string; lit holds the decoded text
	_Comma  // ,
	_Colon  // :
	_Lparen // (
	_Rparen // )
	_Lbrack // [
	_Rbrack // ]
	_Plus   // +
	_Minus  // -
	_At     // @
	_Hash   // #
)

var tokenNames = [...]string{
	_EOF:     "EOF",
	_Newline: "newline",
	_Name:    "name",
	_Int:     "integer",
	_Float:   "float",
	_String:  "string",
	_Comma:   "','",
	_Colon:   "':'",
	_Lparen:  "'('",
	_Rparen:  "')'",
	_Lbrack:  "'['",
	_Rbrack:  "']'",
	_Plus:    "'+'",
	_Minus:   "'-'",
	_At:      "'@'",
	_Hash:    "'#'",
}

func (t token) String() string {
	if int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// scanner splits a MIL listing into tokens. Newlines are tokens since the
// format is line oriented; ';' starts a comment running to the end of line.
type scanner struct {
	buf  []byte
	offs int
	ch   rune // current character, -1 at EOF
	w    int  // width of ch in bytes
	line int

	tok     token
	lit     string
	tokLine int

	errh func(line int, msg string)
}

func newScanner(src []byte, errh func(line int, msg string)) *scanner {
	s := &scanner{buf: src, line: 1, ch: ' ', errh: errh}
	s.nextch()
	return s
}

func (s *scanner) nextch() {
	if s.ch == '\n' {
		s.line++
	}
	if s.offs >= len(s.buf) {
		s.ch, s.w = -1, 0
		return
	}
	r, w := utf8.DecodeRune(s.buf[s.offs:])
	if r == utf8.RuneError && w == 1 {
		s.error("invalid UTF-8 encoding")
	}
	s.ch, s.w = r, w
	s.offs += w
}

func (s *scanner) error(msg string) {
	if s.errh != nil {
		s.errh(s.line, msg)
	}
}

// next advances to the next token.
func (s *scanner) next() {
redo:
	for s.ch == ' ' || s.ch == '\t' || s.ch == '\r' {
		s.nextch()
	}
	if s.ch == ';' {
		for s.ch != '\n' && s.ch >= 0 {
			s.nextch()
		}
	}

	s.tokLine = s.line
	s.lit = ""

	switch ch := s.ch; {
	case ch < 0:
		s.tok = _EOF
	case ch == '\n':
		s.nextch()
		s.tok = _Newline
	case isLetter(ch):
		s.scanName()
	case isDigit(ch):
		s.scanNumber()
	case ch == '"':
		s.scanString()
	default:
		s.nextch()
		switch ch {
		case ',':
			s.tok = _Comma
		case ':':
			s.tok = _Colon
		case '(':
			s.tok = _Lparen
		case ')':
			s.tok = _Rparen
		case '[':
			s.tok = _Lbrack
		case ']':
			s.tok = _Rbrack
		case '+':
			s.tok = _Plus
		case '-':
			s.tok = _Minus
		case '@':
			s.tok = _At
		case '#':
			s.tok = _Hash
		default:
			s.error(fmt.Sprintf("unexpected character %q", ch))
			goto redo
		}
	}
}

// scanName scans an identifier. Callee names may contain dots and dollar
// signs after the first character.
func (s *scanner) scanName() {
	start := s.end()
	for isLetter(s.ch) || isDigit(s.ch) || s.ch == '.' || s.ch == '$' {
		s.nextch()
	}
	s.lit = string(s.buf[start:s.end()])
	s.tok = _Name
}

func (s *scanner) scanNumber() {
	start := s.end()
	s.tok = _Int

	if s.ch == '0' {
		s.nextch()
		if lower(s.ch) == 'x' {
			s.nextch()
			if !isHexDigit(s.ch) {
				s.error("invalid hex literal")
			}
			for isHexDigit(s.ch) {
				s.nextch()
			}
			s.lit = string(s.buf[start:s.end()])
			return
		}
	}
	for isDigit(s.ch) {
		s.nextch()
	}
	if s.ch == '.' {
		s.tok = _Float
		s.nextch()
		for isDigit(s.ch) {
			s.nextch()
		}
	}
	if lower(s.ch) == 'e' {
		s.tok = _Float
		s.nextch()
		if s.ch == '+' || s.ch == '-' {
			s.nextch()
		}
		if !isDigit(s.ch) {
			s.error("exponent has no digits")
		}
		for isDigit(s.ch) {
			s.nextch()
		}
	}
	s.lit = string(s.buf[start:s.end()])
}

// scanString scans a Go-style quoted string and decodes it.
func (s *scanner) scanString() {
	start := s.end()
	s.nextch()
	for s.ch != '"' {
		if s.ch == '\n' || s.ch < 0 {
			s.error("string not terminated")
			s.tok = _String
			s.lit = string(s.buf[start+1 : s.end()])
			return
		}
		if s.ch == '\\' {
			s.nextch()
		}
		s.nextch()
	}
	s.nextch()

	raw := string(s.buf[start:s.end()])
	text, err := strconv.Unquote(raw)
	if err != nil {
		s.error(fmt.Sprintf("invalid string literal %s", raw))
		text = strings.Trim(raw, `"`)
	}
	s.tok = _String
	s.lit = text
}

// end returns the byte offset of the current character.
func (s *scanner) end() int {
	return s.offs - s.w
}

func isLetter(r rune) bool {
	return 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || r == '_'
}

func isDigit(r rune) bool {
	return '0' <= r && r <= '9'
}

func isHexDigit(r rune) bool {
	return isDigit(r) || 'a' <= lower(r) && lower(r) <= 'f'
}

// lower maps ASCII upper case letters to lower case.
func lower(r rune) rune {
	return ('a' - 'A') | r
}
