package compiler

import (
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Prose source
// ---------------------------------------------------------------------------

// Lexer tokenizes Prose source code. Lexing never fails: characters it
// does not understand and unterminated strings are dropped, leaving the
// parser to report whatever is left malformed.
type Lexer struct {
	input   string
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)
}

// lexState is a cursor snapshot used for multi-word lookahead.
type lexState struct {
	pos, readPos int
	ch           rune
	line, col    int
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   1,
	}
	l.decode()
	return l
}

// decode loads the rune at readPos into ch without touching line/column.
func (l *Lexer) decode() {
	l.pos = l.readPos
	if l.readPos >= len(l.input) {
		l.ch = 0
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.readPos += size
}

// readChar advances past the current character.
func (l *Lexer) readChar() {
	if l.atEOF() {
		return
	}
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.decode()
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// peekChar returns the character after ch without consuming anything.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

func (l *Lexer) save() lexState {
	return lexState{pos: l.pos, readPos: l.readPos, ch: l.ch, line: l.line, col: l.col}
}

func (l *Lexer) restore(s lexState) {
	l.pos, l.readPos, l.ch, l.line, l.col = s.pos, s.readPos, s.ch, s.line, s.col
}

// NextToken returns the next token, skipping anything that does not lex.
func (l *Lexer) NextToken() Token {
	for {
		if tok, ok := l.scanToken(); ok {
			return tok
		}
	}
}

// scanToken scans one token. ok is false when the scanned text was dropped.
func (l *Lexer) scanToken() (tok Token, ok bool) {
	l.skipWhitespace()

	line, col := l.line, l.col
	mk := func(kind TokenKind, lexeme string) (Token, bool) {
		return Token{Kind: kind, Lexeme: lexeme, Line: line, Column: col}, true
	}

	if l.atEOF() {
		return mk(TokenEOF, "")
	}

	switch ch := l.ch; {
	case ch == '\n':
		l.readChar()
		return mk(TokenNewline, "\n")

	case ch == '#' || (ch == '/' && l.peekChar() == '/'):
		start := l.pos
		for !l.atEOF() && l.ch != '\n' {
			l.readChar()
		}
		return mk(TokenComment, l.input[start:l.pos])

	case ch == '"' || ch == '\'':
		lexeme, ok := l.readString()
		if !ok {
			return Token{}, false
		}
		return mk(TokenString, lexeme)

	case isDigit(ch):
		return mk(TokenNumber, l.readNumber())

	case isLetter(ch) || ch == '_':
		kind, lexeme := l.readWord()
		return mk(kind, lexeme)

	case ch == '=' || ch == '!' || ch == '>' || ch == '<':
		return l.readComparison(line, col)
	}

	if kind, ok := singleCharTokens[l.ch]; ok {
		lexeme := string(l.ch)
		l.readChar()
		return mk(kind, lexeme)
	}

	// Unknown character.
	l.readChar()
	return Token{}, false
}

var singleCharTokens = map[rune]TokenKind{
	'(': TokenLParen,
	')': TokenRParen,
	'[': TokenLBracket,
	']': TokenRBracket,
	',': TokenComma,
	'.': TokenDot,
	':': TokenColon,
	'@': TokenAt,
	'+': TokenPlus,
	'-': TokenMinus,
	'*': TokenStar,
	'/': TokenSlash,
	'%': TokenPercent,
}

// skipWhitespace skips spaces, tabs and carriage returns. Newlines are tokens.
func (l *Lexer) skipWhitespace() {
	for !l.atEOF() && (l.ch == ' ' || l.ch == '\t' || l.ch == '\r') {
		l.readChar()
	}
}

// readComparison handles = == != > >= < <=. A lone '!' is dropped.
func (l *Lexer) readComparison(line, col int) (Token, bool) {
	first := l.ch
	l.readChar()
	withEq := l.ch == '='
	if withEq {
		l.readChar()
	}

	var kind TokenKind
	switch {
	case first == '=' && withEq:
		kind = TokenEqEq
	case first == '=':
		kind = TokenEqualSign
	case first == '!' && withEq:
		kind = TokenBangEq
	case first == '>' && withEq:
		kind = TokenGreaterEq
	case first == '>':
		kind = TokenGreater
	case first == '<' && withEq:
		kind = TokenLessEq
	case first == '<':
		kind = TokenLess
	default:
		return Token{}, false
	}
	return Token{Kind: kind, Lexeme: tokenNames[kind], Line: line, Column: col}, true
}

// readString reads a string delimited by the current quote character.
// The returned lexeme includes both quotes. No escapes are processed.
func (l *Lexer) readString() (string, bool) {
	quote := l.ch
	start := l.pos
	l.readChar() // consume opening quote

	for !l.atEOF() && l.ch != quote {
		l.readChar()
	}
	if l.atEOF() {
		return "", false
	}
	l.readChar() // consume closing quote
	return l.input[start:l.pos], true
}

// readNumber reads digits with an optional fractional part.
func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

// readIdent reads an alphanumeric+underscore run starting at ch.
func (l *Lexer) readIdent() string {
	start := l.pos
	for !l.atEOF() && (isLetter(l.ch) || isDigit(l.ch) || l.ch == '_') {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// nextWord skips intra-line whitespace and reads the following word, or
// returns "" if the next thing on the line is not a word.
func (l *Lexer) nextWord() string {
	l.skipWhitespace()
	if l.atEOF() || !(isLetter(l.ch) || l.ch == '_') {
		return ""
	}
	return l.readIdent()
}

// readWord reads an identifier or keyword, resolving multi-word keywords
// by lookahead. A failed lookahead restores the cursor so the following
// words lex normally.
func (l *Lexer) readWord() (TokenKind, string) {
	word := l.readIdent()

	switch word {
	case "end":
		s := l.save()
		if kind, ok := closers[l.nextWord()]; ok {
			return kind, tokenNames[kind]
		}
		l.restore(s)
		return TokenEnd, word

	case "divided":
		s := l.save()
		if l.nextWord() == "by" {
			return TokenDividedBy, tokenNames[TokenDividedBy]
		}
		l.restore(s)
		return TokenIdentifier, word

	case "does":
		s := l.save()
		if l.nextWord() == "not" && l.nextWord() == "equal" {
			return TokenDoesNotEqual, tokenNames[TokenDoesNotEqual]
		}
		l.restore(s)
		return TokenIdentifier, word
	}

	if kind, ok := keywords[word]; ok {
		return kind, word
	}
	return TokenIdentifier, word
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens from the input, ending with TokenEOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Kind == TokenEOF {
			break
		}
	}
	return tokens
}
