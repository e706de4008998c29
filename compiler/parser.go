package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser for Prose
// ---------------------------------------------------------------------------

// ParseError is a fatal parse error. Parsing stops at the first one.
type ParseError struct {
	Message string
	Line    int
	Column  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// Parser turns a token stream into a Program.
type Parser struct {
	tokens  []Token
	current int
}

// NewParser creates a parser over tokens. A trailing EOF is added if the
// stream does not already end with one.
func NewParser(tokens []Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Kind != TokenEOF {
		line := 1
		if len(tokens) > 0 {
			line = tokens[len(tokens)-1].Line
		}
		tokens = append(tokens, Token{Kind: TokenEOF, Line: line, Column: 1})
	}
	return &Parser{tokens: tokens}
}

// Parse parses a complete token stream.
func Parse(tokens []Token) (*Program, error) {
	return NewParser(tokens).ParseProgram()
}

// ParseSource tokenizes and parses source text.
func ParseSource(source string) (*Program, error) {
	return Parse(Tokenize(source))
}

// ---------------------------------------------------------------------------
// Cursor helpers
// ---------------------------------------------------------------------------

func (p *Parser) peek() Token {
	return p.peekAt(0)
}

// peekAt returns the token n positions ahead, clamped to EOF.
func (p *Parser) peekAt(n int) Token {
	i := p.current + n
	if i >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[i]
}

func (p *Parser) advance() Token {
	tok := p.peek()
	if tok.Kind != TokenEOF {
		p.current++
	}
	return tok
}

func (p *Parser) check(kind TokenKind) bool {
	return p.peek().Kind == kind
}

// checkWord reports whether the current token is the identifier w.
// Contextual words such as "port" or "back" are matched this way.
func (p *Parser) checkWord(w string) bool {
	tok := p.peek()
	return tok.Kind == TokenIdentifier && tok.Lexeme == w
}

func (p *Parser) match(kind TokenKind) bool {
	if p.check(kind) {
		p.advance()
		return true
	}
	return false
}

// consume advances past a token of the expected kind or fails with message.
func (p *Parser) consume(kind TokenKind, message string) (Token, error) {
	if p.check(kind) {
		return p.advance(), nil
	}
	return Token{}, p.errorAt(p.peek(), "%s, got %s", message, describe(p.peek()))
}

// consumeWord accepts an identifier or a keyword spelled as a single word.
func (p *Parser) consumeWord(message string) (Token, error) {
	tok := p.peek()
	if isWordToken(tok) {
		return p.advance(), nil
	}
	return Token{}, p.errorAt(tok, "%s, got %s", message, describe(tok))
}

func (p *Parser) errorAt(tok Token, format string, args ...interface{}) *ParseError {
	return &ParseError{
		Message: fmt.Sprintf(format, args...),
		Line:    tok.Line,
		Column:  tok.Column,
	}
}

func (p *Parser) skipNewlinesAndComments() {
	for p.check(TokenNewline) || p.check(TokenComment) {
		p.advance()
	}
}

// peekAheadForIs distinguishes "x is 5" from an action invocation.
func (p *Parser) peekAheadForIs() bool {
	return p.peekAt(1).Kind == TokenIs
}

// peekAheadForParen distinguishes "greet(x)" from other identifier uses.
func (p *Parser) peekAheadForParen() bool {
	return p.peekAt(1).Kind == TokenLParen
}

// atStatementEnd reports whether nothing more belongs to the current statement.
func (p *Parser) atStatementEnd() bool {
	switch p.peek().Kind {
	case TokenNewline, TokenComment, TokenEOF, TokenOtherwise, TokenEnd,
		TokenEndModule, TokenEndData, TokenEndAction, TokenEndTask,
		TokenEndWhen, TokenEndWhile, TokenEndFor:
		return true
	}
	return false
}

func posOf(tok Token) Position {
	return Position{Line: tok.Line, Column: tok.Column}
}

func isWordToken(tok Token) bool {
	if tok.Kind == TokenString || tok.Lexeme == "" || strings.Contains(tok.Lexeme, " ") {
		return false
	}
	r := []rune(tok.Lexeme)[0]
	return isLetter(r) || r == '_'
}

func describe(tok Token) string {
	switch tok.Kind {
	case TokenEOF:
		return "end of input"
	case TokenNewline:
		return "end of line"
	}
	return fmt.Sprintf("%q", tok.Lexeme)
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseProgram parses statements and annotations until EOF.
func (p *Parser) ParseProgram() (*Program, error) {
	prog := &Program{}
	for {
		p.skipNewlinesAndComments()
		if p.check(TokenEOF) {
			break
		}
		if p.check(TokenAt) {
			ann, err := p.parseAnnotation()
			if err != nil {
				return nil, err
			}
			prog.Metadata = append(prog.Metadata, ann)
			continue
		}

		stmt, err := p.ParseStatement()
		if err != nil {
			return nil, err
		}
		if inc, ok := stmt.(*IncludeStatement); ok {
			prog.IncludedModules = append(prog.IncludedModules, inc)
		}
		prog.Statements = append(prog.Statements, stmt)
	}
	return prog, nil
}

// parseAnnotation parses "@key value".
func (p *Parser) parseAnnotation() (MetadataAnnotation, error) {
	at := p.advance()
	key, err := p.consumeWord("Expected annotation name after '@'")
	if err != nil {
		return MetadataAnnotation{}, err
	}
	ann := MetadataAnnotation{PosVal: posOf(at), Key: key.Lexeme}

	var parts []string
	for !p.atStatementEnd() {
		parts = append(parts, p.advance().StringValue())
	}
	ann.Value = strings.Join(parts, " ")
	return ann, nil
}

// ParseStatement parses one statement, skipping leading blank lines.
func (p *Parser) ParseStatement() (Stmt, error) {
	p.skipNewlinesAndComments()
	tok := p.peek()

	switch tok.Kind {
	case TokenModule:
		return p.parseModule()
	case TokenData:
		return p.parseData()
	case TokenLayout, TokenForm, TokenScreen, TokenFragment, TokenHeaders:
		return nil, p.errorAt(tok, "%s definitions are not supported", tok.Lexeme)
	case TokenCall, TokenFetch, TokenUpdate, TokenDelete:
		return p.parseApiCall()
	case TokenDatabase:
		return p.parseDatabase()
	case TokenServe:
		return p.parseServe()
	case TokenAction:
		return p.parseAction()
	case TokenTask:
		return p.parseTask()
	case TokenDisplay:
		return p.parseDisplay()
	case TokenSet:
		return p.parseSet()
	case TokenWhen:
		return p.parseWhen()
	case TokenWhile:
		return p.parseWhile()
	case TokenFor:
		return p.parseFor()
	case TokenGive, TokenReturn:
		return p.parseReturn()
	case TokenInclude:
		return p.parseInclude()
	case TokenIdentifier:
		return p.parseIdentifierStatement()
	case TokenEOF:
		return nil, p.errorAt(tok, "Unexpected end of input")
	}
	return nil, p.errorAt(tok, "Unexpected token %s", describe(tok))
}

// parseBody parses statements until one of the terminators (not consumed).
func (p *Parser) parseBody(terminators ...TokenKind) ([]Stmt, error) {
	body := []Stmt{}
	for {
		p.skipNewlinesAndComments()
		for _, t := range terminators {
			if p.check(t) {
				return body, nil
			}
		}
		if p.check(TokenEOF) {
			return nil, p.errorAt(p.peek(), "Unexpected end of input, expected '%s'", terminators[len(terminators)-1])
		}
		stmt, err := p.ParseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmt)
	}
}

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

func (p *Parser) parseModule() (Stmt, error) {
	start := p.advance()
	name, err := p.consume(TokenIdentifier, "Expected module name")
	if err != nil {
		return nil, err
	}
	body, err := p.parseBody(TokenEndModule)
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(TokenEndModule, "Expected 'end module'"); err != nil {
		return nil, err
	}
	return &ModuleDefinition{PosVal: posOf(start), Name: name.Lexeme, Body: body}, nil
}

func (p *Parser) parseData() (Stmt, error) {
	start := p.advance()
	name, err := p.consume(TokenIdentifier, "Expected data name")
	if err != nil {
		return nil, err
	}
	p.match(TokenColon)

	def := &DataDefinition{PosVal: posOf(start), Name: name.Lexeme}
	for {
		p.skipNewlinesAndComments()
		if p.check(TokenEndData) {
			break
		}
		field, err := p.consumeWord("Expected field name")
		if err != nil {
			return nil, err
		}
		f := DataField{Name: field.Lexeme}
		if p.checkWord("as") {
			p.advance()
			typ, err := p.consumeWord("Expected field type after 'as'")
			if err != nil {
				return nil, err
			}
			f.Type = typ.Lexeme
		}
		def.Fields = append(def.Fields, f)
		p.match(TokenComma)
	}
	p.advance() // end data
	return def, nil
}

// parseParams parses "a, b and c" after "with".
func (p *Parser) parseParams() ([]string, error) {
	first, err := p.consume(TokenIdentifier, "Expected parameter name")
	if err != nil {
		return nil, err
	}
	params := []string{first.Lexeme}
	for p.check(TokenComma) || p.check(TokenAnd) {
		p.advance()
		next, err := p.consume(TokenIdentifier, "Expected parameter name")
		if err != nil {
			return nil, err
		}
		params = append(params, next.Lexeme)
	}
	return params, nil
}

// parseCallable parses the shared header and body of action and task.
func (p *Parser) parseCallable(closer TokenKind, what string) (Token, string, []string, []Stmt, error) {
	start := p.advance()
	name, err := p.consume(TokenIdentifier, "Expected "+what+" name")
	if err != nil {
		return start, "", nil, nil, err
	}
	var params []string
	if p.match(TokenWith) {
		if params, err = p.parseParams(); err != nil {
			return start, "", nil, nil, err
		}
	}
	p.match(TokenColon)

	body, err := p.parseBody(closer)
	if err != nil {
		return start, "", nil, nil, err
	}
	if _, err := p.consume(closer, fmt.Sprintf("Expected '%s'", closer)); err != nil {
		return start, "", nil, nil, err
	}
	return start, name.Lexeme, params, body, nil
}

func (p *Parser) parseAction() (Stmt, error) {
	start, name, params, body, err := p.parseCallable(TokenEndAction, "action")
	if err != nil {
		return nil, err
	}
	if params == nil {
		return &ActionDefinition{PosVal: posOf(start), Name: name, Body: body}, nil
	}
	return &TaskAction{PosVal: posOf(start), Name: name, Params: params, Body: body}, nil
}

func (p *Parser) parseTask() (Stmt, error) {
	start, name, params, body, err := p.parseCallable(TokenEndTask, "task")
	if err != nil {
		return nil, err
	}
	return &TaskDefinition{PosVal: posOf(start), Name: name, Params: params, Body: body}, nil
}

// ---------------------------------------------------------------------------
// Core statements
// ---------------------------------------------------------------------------

func (p *Parser) parseDisplay() (Stmt, error) {
	start := p.advance()
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &DisplayStatement{PosVal: posOf(start), Value: value}, nil
}

// parseSet handles "set X to V" and "set X which is T to V". Everything up
// to the first "to" is reassembled into text and split on " which is ".
func (p *Parser) parseSet() (Stmt, error) {
	start := p.advance()

	var words []string
	for !p.check(TokenTo) {
		if p.check(TokenNewline) || p.check(TokenEOF) {
			return nil, p.errorAt(p.peek(), "Expected 'to' in set statement")
		}
		words = append(words, p.advance().Lexeme)
	}
	p.advance() // to

	text := strings.Join(words, " ")
	name, declared := text, ""
	if i := strings.Index(text, " which is "); i >= 0 {
		name = text[:i]
		declared = strings.TrimSpace(text[i+len(" which is "):])
	}
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t") {
		return nil, p.errorAt(start, "Invalid variable name %q in set statement", name)
	}

	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &Assignment{PosVal: posOf(start), Name: name, DeclaredType: declared, Value: value}, nil
}

// parseWhen parses a when/otherwise when/otherwise chain into one flat
// IfStatement. A bare otherwise ends the chain.
func (p *Parser) parseWhen() (Stmt, error) {
	start := p.advance()
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(TokenThen, "Expected 'then' after condition"); err != nil {
		return nil, err
	}
	thenBody, err := p.parseBody(TokenOtherwise, TokenEndWhen)
	if err != nil {
		return nil, err
	}

	stmt := &IfStatement{PosVal: posOf(start), Condition: cond, ThenBody: thenBody}
	for p.check(TokenOtherwise) {
		other := p.advance()
		if p.match(TokenWhen) {
			c, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.consume(TokenThen, "Expected 'then' after condition"); err != nil {
				return nil, err
			}
			body, err := p.parseBody(TokenOtherwise, TokenEndWhen)
			if err != nil {
				return nil, err
			}
			stmt.ElseIfClauses = append(stmt.ElseIfClauses, ElseIfClause{
				PosVal:    posOf(other),
				Condition: c,
				Body:      body,
			})
			continue
		}

		elseBody, err := p.parseBody(TokenEndWhen)
		if err != nil {
			return nil, err
		}
		stmt.ElseBody = elseBody
		break
	}

	if _, err := p.consume(TokenEndWhen, "Expected 'end when'"); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseWhile() (Stmt, error) {
	start := p.advance()
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	p.match(TokenDo)
	body, err := p.parseBody(TokenEndWhile)
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(TokenEndWhile, "Expected 'end while'"); err != nil {
		return nil, err
	}
	return &WhileLoop{PosVal: posOf(start), Condition: cond, Body: body}, nil
}

// parseFor parses "for each x in xs" and "for each character c in s".
func (p *Parser) parseFor() (Stmt, error) {
	start := p.advance()
	if _, err := p.consume(TokenEach, "Expected 'each' after 'for'"); err != nil {
		return nil, err
	}

	chars := false
	if p.checkWord("character") && p.peekAt(1).Kind == TokenIdentifier {
		p.advance()
		chars = true
	}

	variable, err := p.consume(TokenIdentifier, "Expected loop variable")
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(TokenIn, "Expected 'in' after loop variable"); err != nil {
		return nil, err
	}
	source, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	p.match(TokenDo)

	body, err := p.parseBody(TokenEndFor)
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(TokenEndFor, "Expected 'end for'"); err != nil {
		return nil, err
	}

	if chars {
		return &ForEachCharLoop{PosVal: posOf(start), Variable: variable.Lexeme, Source: source, Body: body}, nil
	}
	return &ForEachLoop{PosVal: posOf(start), Variable: variable.Lexeme, Iterable: source, Body: body}, nil
}

func (p *Parser) parseReturn() (Stmt, error) {
	start := p.advance()
	if start.Kind == TokenGive && p.checkWord("back") {
		p.advance()
	}
	ret := &ReturnStatement{PosVal: posOf(start)}
	if p.atStatementEnd() {
		return ret, nil
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	ret.Value = value
	return ret, nil
}

func (p *Parser) parseInclude() (Stmt, error) {
	start := p.advance()
	path, err := p.consume(TokenString, "Expected file path after 'include'")
	if err != nil {
		return nil, err
	}
	return &IncludeStatement{PosVal: posOf(start), Path: path.StringValue()}, nil
}

// parseIdentifierStatement resolves a leading identifier into an
// assignment ("x is 5") or an action invocation.
func (p *Parser) parseIdentifierStatement() (Stmt, error) {
	start := p.peek()

	if p.peekAheadForIs() {
		p.advance() // name
		p.advance() // is
		value, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return &Assignment{PosVal: posOf(start), Name: start.Lexeme, Value: value}, nil
	}

	if p.peekAheadForParen() {
		p.advance() // name
		args, err := p.parseCallArgs()
		if err != nil {
			return nil, err
		}
		call := &ActionCall{PosVal: posOf(start), Name: start.Lexeme, Args: args}
		return &CallStatement{PosVal: posOf(start), Call: call}, nil
	}

	p.advance() // name
	call := &ActionCall{PosVal: posOf(start), Name: start.Lexeme}
	if p.match(TokenWith) {
		args, err := p.parseWithArgs()
		if err != nil {
			return nil, err
		}
		call.Args = args
	}
	if !p.atStatementEnd() {
		return nil, p.errorAt(p.peek(), "Expected 'is', '(' or 'with' after %q, got %s", start.Lexeme, describe(p.peek()))
	}
	return &CallStatement{PosVal: posOf(start), Call: call}, nil
}

// parseWithArgs parses "a, b and c" call arguments. Each argument is parsed
// below the logical tier so "and" separates arguments.
func (p *Parser) parseWithArgs() ([]Expr, error) {
	var args []Expr
	for {
		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.match(TokenComma) && !p.match(TokenAnd) {
			return args, nil
		}
	}
}

// ---------------------------------------------------------------------------
// Domain statements
// ---------------------------------------------------------------------------

func (p *Parser) parseServe() (Stmt, error) {
	start := p.advance()
	if p.checkWord("on") {
		p.advance()
	}
	if p.checkWord("port") {
		p.advance()
	}
	port, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &ServeStatement{PosVal: posOf(start), Port: port}, nil
}

func (p *Parser) parseDatabase() (Stmt, error) {
	start := p.advance()
	op, err := p.consumeWord("Expected database operation")
	if err != nil {
		return nil, err
	}
	query, err := p.consume(TokenString, "Expected query string")
	if err != nil {
		return nil, err
	}
	return &DatabaseStatement{PosVal: posOf(start), Operation: op.Lexeme, Query: query.StringValue()}, nil
}

func (p *Parser) parseApiCall() (Stmt, error) {
	start := p.advance()
	call := &ApiCall{PosVal: posOf(start)}
	switch start.Kind {
	case TokenCall:
		if p.checkWord("api") {
			p.advance()
		}
		call.Method = "GET"
	case TokenFetch:
		call.Method = "GET"
	case TokenUpdate:
		call.Method = "PUT"
	case TokenDelete:
		call.Method = "DELETE"
	}

	url, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	call.URL = url

	if start.Kind == TokenUpdate && p.match(TokenWith) {
		body, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		call.Body = body
	}
	return call, nil
}
