package compiler

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Expression parsing (precedence climbing, lowest first)
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression from the current position.
func (p *Parser) ParseExpression() (Expr, error) {
	return p.parseExpression()
}

func (p *Parser) parseExpression() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.check(TokenOr) {
		op := p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{PosVal: posOf(op), Left: left, Operator: "or", Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.check(TokenAnd) {
		op := p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{PosVal: posOf(op), Left: left, Operator: "and", Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		start := p.peek()
		op, ok, err := p.matchComparison()
		if err != nil {
			return nil, err
		}
		if !ok {
			return left, nil
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{PosVal: posOf(start), Left: left, Operator: op, Right: right}
	}
}

var symbolComparisons = map[TokenKind]string{
	TokenEqEq:         "==",
	TokenEqualSign:    "=",
	TokenBangEq:       "!=",
	TokenGreater:      ">",
	TokenLess:         "<",
	TokenGreaterEq:    ">=",
	TokenLessEq:       "<=",
	TokenEquals:       "equals",
	TokenDoesNotEqual: "does not equal",
}

// matchComparison consumes a comparison operator if one starts here and
// returns its surface spelling.
func (p *Parser) matchComparison() (string, bool, error) {
	if op, ok := symbolComparisons[p.peek().Kind]; ok {
		p.advance()
		return op, true, nil
	}
	if !p.check(TokenIs) {
		return "", false, nil
	}
	p.advance() // is

	switch {
	case p.check(TokenNot):
		p.advance()
		if p.match(TokenEqual) {
			if _, err := p.consume(TokenTo, "Expected 'to' after 'is not equal'"); err != nil {
				return "", false, err
			}
			return "is not equal to", true, nil
		}
		return "is not", true, nil

	case p.check(TokenEqual):
		p.advance()
		if _, err := p.consume(TokenTo, "Expected 'to' after 'is equal'"); err != nil {
			return "", false, err
		}
		return "is equal to", true, nil

	case p.check(TokenGreaterWord), p.check(TokenLessWord):
		word := p.advance().Lexeme
		if _, err := p.consume(TokenThan, "Expected 'than' after 'is "+word+"'"); err != nil {
			return "", false, err
		}
		// "or equal to" only binds when both words follow; otherwise the
		// "or" is left for the logical tier.
		if p.check(TokenOr) && p.peekAt(1).Kind == TokenEqual {
			p.advance()
			p.advance()
			if _, err := p.consume(TokenTo, "Expected 'to' after 'or equal'"); err != nil {
				return "", false, err
			}
			return "is " + word + " than or equal to", true, nil
		}
		return "is " + word + " than", true, nil

	case p.checkWord("at"):
		next := p.peekAt(1)
		if next.Kind == TokenIdentifier && (next.Lexeme == "least" || next.Lexeme == "most") {
			p.advance()
			p.advance()
			return "is at " + next.Lexeme, true, nil
		}
	}
	return "is", true, nil
}

var additiveOps = map[TokenKind]string{
	TokenPlus:      "+",
	TokenMinus:     "-",
	TokenPlusWord:  "plus",
	TokenMinusWord: "minus",
}

var multiplicativeOps = map[TokenKind]string{
	TokenStar:      "*",
	TokenSlash:     "/",
	TokenPercent:   "%",
	TokenTimes:     "times",
	TokenDividedBy: "divided by",
	TokenMod:       "mod",
}

func (p *Parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := additiveOps[p.peek().Kind]
		if !ok {
			return left, nil
		}
		tok := p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &ArithmeticOp{PosVal: posOf(tok), Left: left, Operator: op, Right: right}
	}
}

func (p *Parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := multiplicativeOps[p.peek().Kind]
		if !ok {
			return left, nil
		}
		tok := p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &ArithmeticOp{PosVal: posOf(tok), Left: left, Operator: op, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	switch {
	case p.check(TokenNot):
		tok := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{PosVal: posOf(tok), Operator: "not", Operand: operand}, nil

	case p.check(TokenMinus):
		tok := p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		// Fold negative number literals.
		switch lit := operand.(type) {
		case *IntegerLiteral:
			lit.Value = -lit.Value
			lit.PosVal = posOf(tok)
			return lit, nil
		case *FloatLiteral:
			lit.Value = -lit.Value
			lit.PosVal = posOf(tok)
			return lit, nil
		}
		return &UnaryOp{PosVal: posOf(tok), Operator: "-", Operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.check(TokenDot):
			dot := p.advance()
			name, err := p.consumeWord("Expected property name after '.'")
			if err != nil {
				return nil, err
			}
			expr = &PropertyAccess{PosVal: posOf(dot), Object: expr, Property: name.Lexeme}

		case p.check(TokenLBracket):
			open := p.advance()
			index, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.consume(TokenRBracket, "Expected ']' after index"); err != nil {
				return nil, err
			}
			expr = &IndexExpression{PosVal: posOf(open), Object: expr, Index: index}

		default:
			return expr, nil
		}
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.peek()

	switch tok.Kind {
	case TokenNumber:
		p.advance()
		return numberLiteral(tok)

	case TokenString:
		p.advance()
		return stringLiteral(tok), nil

	case TokenTrue, TokenFalse:
		p.advance()
		return &BooleanLiteral{PosVal: posOf(tok), Value: tok.Kind == TokenTrue}, nil

	case TokenNull:
		p.advance()
		return &NullLiteral{PosVal: posOf(tok)}, nil

	case TokenIdentifier:
		p.advance()
		if p.check(TokenLParen) {
			args, err := p.parseCallArgs()
			if err != nil {
				return nil, err
			}
			return &ActionCall{PosVal: posOf(tok), Name: tok.Lexeme, Args: args}, nil
		}
		return &Identifier{PosVal: posOf(tok), Name: tok.Lexeme}, nil

	case TokenLParen:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.consume(TokenRParen, "Expected ')' after expression"); err != nil {
			return nil, err
		}
		return inner, nil

	case TokenLBracket:
		return p.parseArrayLiteral()

	case TokenFormat:
		return p.parseFormat()
	}

	return nil, p.errorAt(tok, "Expected expression, got %s", describe(tok))
}

// parseCallArgs parses "(a, b, c)".
func (p *Parser) parseCallArgs() ([]Expr, error) {
	if _, err := p.consume(TokenLParen, "Expected '('"); err != nil {
		return nil, err
	}
	var args []Expr
	if p.match(TokenRParen) {
		return args, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.match(TokenComma) {
			continue
		}
		if _, err := p.consume(TokenRParen, "Expected ')' after arguments"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

// parseArrayLiteral parses "[a, b, c]". Newlines between elements are allowed.
func (p *Parser) parseArrayLiteral() (Expr, error) {
	open := p.advance()
	arr := &ArrayLiteral{PosVal: posOf(open)}
	p.skipNewlinesAndComments()
	if p.match(TokenRBracket) {
		return arr, nil
	}
	for {
		elem, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		arr.Elements = append(arr.Elements, elem)
		p.skipNewlinesAndComments()
		if p.match(TokenComma) {
			p.skipNewlinesAndComments()
			continue
		}
		if _, err := p.consume(TokenRBracket, "Expected ']' after array elements"); err != nil {
			return nil, err
		}
		return arr, nil
	}
}

// parseFormat parses Format(value, "pattern").
func (p *Parser) parseFormat() (Expr, error) {
	start := p.advance()
	if _, err := p.consume(TokenLParen, "Expected '(' after Format"); err != nil {
		return nil, err
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(TokenComma, "Expected ',' after Format value"); err != nil {
		return nil, err
	}
	pattern, err := p.consume(TokenString, "Expected format pattern string")
	if err != nil {
		return nil, err
	}
	if _, err := p.consume(TokenRParen, "Expected ')' after Format pattern"); err != nil {
		return nil, err
	}
	return &FormatExpression{PosVal: posOf(start), Value: value, Pattern: pattern.StringValue()}, nil
}

// maxExactInt bounds integer literals to what a float64 holds exactly.
const maxExactInt = 1 << 53

// numberLiteral classifies a number by its fractional part: 5 and 5.0 are
// integers, 2.5 is a float.
func numberLiteral(tok Token) (Expr, error) {
	v, err := strconv.ParseFloat(tok.Lexeme, 64)
	if err != nil {
		return nil, &ParseError{Message: "Invalid number " + tok.Lexeme, Line: tok.Line, Column: tok.Column}
	}
	if v == math.Trunc(v) && math.Abs(v) <= maxExactInt {
		return &IntegerLiteral{PosVal: posOf(tok), Value: int64(v)}, nil
	}
	return &FloatLiteral{PosVal: posOf(tok), Value: v}, nil
}

// stringLiteral splits "[name]" segments out of a string token. A string
// without a complete bracket pair stays a plain literal.
func stringLiteral(tok Token) Expr {
	content := tok.StringValue()
	parts := splitInterpolation(content)
	if parts == nil {
		return &StringLiteral{PosVal: posOf(tok), Value: content}
	}
	return &StringInterpolation{PosVal: posOf(tok), Parts: parts}
}

// splitInterpolation returns nil when s has no interpolated names.
func splitInterpolation(s string) []InterpolationPart {
	var parts []InterpolationPart
	hasName := false
	rest := s
	for {
		open := strings.IndexByte(rest, '[')
		if open < 0 {
			break
		}
		closeIdx := strings.IndexByte(rest[open:], ']')
		if closeIdx < 0 {
			break
		}
		name := strings.TrimSpace(rest[open+1 : open+closeIdx])
		if !isIdentifier(name) {
			// "[]", "[1, 2]" and the like are literal text.
			parts = appendLiteral(parts, rest[:open+closeIdx+1])
			rest = rest[open+closeIdx+1:]
			continue
		}
		parts = appendLiteral(parts, rest[:open])
		parts = append(parts, InterpolationPart{IsName: true, Name: name})
		hasName = true
		rest = rest[open+closeIdx+1:]
	}
	if !hasName {
		return nil
	}
	return appendLiteral(parts, rest)
}

// isIdentifier reports whether s is spelled like a variable name.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if !isLetter(r) && r != '_' && (i == 0 || !isDigit(r)) {
			return false
		}
	}
	return true
}

// appendLiteral adds literal text, merging with a preceding literal part.
func appendLiteral(parts []InterpolationPart, text string) []InterpolationPart {
	if text == "" {
		return parts
	}
	if n := len(parts); n > 0 && !parts[n-1].IsName {
		parts[n-1].Literal += text
		return parts
	}
	return append(parts, InterpolationPart{Literal: text})
}
