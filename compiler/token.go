package compiler

import (
	"fmt"
	"sort"
)

// ---------------------------------------------------------------------------
// Token kinds for the Prose lexer
// ---------------------------------------------------------------------------

// TokenKind represents the kind of a token.
type TokenKind int

const (
	// Special tokens
	TokenEOF TokenKind = iota
	TokenNewline
	TokenComment

	// Literals
	TokenString     // "hello [name]" or 'hello'
	TokenNumber     // 42, 3.14
	TokenIdentifier // foo, total_count
	TokenTrue
	TokenFalse
	TokenNull // null, nothing

	// Punctuation
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenComma     // ,
	TokenDot       // .
	TokenColon     // :
	TokenAt        // @
	TokenPlus      // +
	TokenMinus     // -
	TokenStar      // *
	TokenSlash     // /
	TokenPercent   // %
	TokenEqualSign // =
	TokenEqEq      // ==
	TokenBangEq    // !=
	TokenGreater   // >
	TokenLess      // <
	TokenGreaterEq // >=
	TokenLessEq    // <=

	// Keywords
	TokenModule
	TokenData
	TokenAction
	TokenTask
	TokenWith
	TokenWhen
	TokenThen
	TokenOtherwise
	TokenWhile
	TokenDo
	TokenFor
	TokenEach
	TokenIn
	TokenDisplay
	TokenSet
	TokenTo
	TokenWhich
	TokenIs
	TokenGive
	TokenReturn
	TokenInclude
	TokenAnd
	TokenOr
	TokenNot
	TokenPlusWord
	TokenMinusWord
	TokenTimes
	TokenMod
	TokenEquals
	TokenEqual
	TokenGreaterWord
	TokenLessWord
	TokenThan
	TokenServe
	TokenCall
	TokenFetch
	TokenUpdate
	TokenDelete
	TokenDatabase
	TokenFormat
	TokenLayout
	TokenForm
	TokenScreen
	TokenFragment
	TokenHeaders
	TokenEnd

	// Compound keywords built by lookahead inside the lexer
	TokenEndModule
	TokenEndData
	TokenEndAction
	TokenEndTask
	TokenEndWhen
	TokenEndWhile
	TokenEndFor
	TokenEndLayout
	TokenEndForm
	TokenEndScreen
	TokenEndFragment
	TokenEndHeaders
	TokenDividedBy
	TokenDoesNotEqual
)

var tokenNames = map[TokenKind]string{
	TokenEOF:          "EOF",
	TokenNewline:      "NEWLINE",
	TokenComment:      "COMMENT",
	TokenString:       "STRING",
	TokenNumber:       "NUMBER",
	TokenIdentifier:   "IDENTIFIER",
	TokenTrue:         "true",
	TokenFalse:        "false",
	TokenNull:         "null",
	TokenLParen:       "(",
	TokenRParen:       ")",
	TokenLBracket:     "[",
	TokenRBracket:     "]",
	TokenComma:        ",",
	TokenDot:          ".",
	TokenColon:        ":",
	TokenAt:           "@",
	TokenPlus:         "+",
	TokenMinus:        "-",
	TokenStar:         "*",
	TokenSlash:        "/",
	TokenPercent:      "%",
	TokenEqualSign:    "=",
	TokenEqEq:         "==",
	TokenBangEq:       "!=",
	TokenGreater:      ">",
	TokenLess:         "<",
	TokenGreaterEq:    ">=",
	TokenLessEq:       "<=",
	TokenModule:       "module",
	TokenData:         "data",
	TokenAction:       "action",
	TokenTask:         "task",
	TokenWith:         "with",
	TokenWhen:         "when",
	TokenThen:         "then",
	TokenOtherwise:    "otherwise",
	TokenWhile:        "while",
	TokenDo:           "do",
	TokenFor:          "for",
	TokenEach:         "each",
	TokenIn:           "in",
	TokenDisplay:      "display",
	TokenSet:          "set",
	TokenTo:           "to",
	TokenWhich:        "which",
	TokenIs:           "is",
	TokenGive:         "give",
	TokenReturn:       "return",
	TokenInclude:      "include",
	TokenAnd:          "and",
	TokenOr:           "or",
	TokenNot:          "not",
	TokenPlusWord:     "plus",
	TokenMinusWord:    "minus",
	TokenTimes:        "times",
	TokenMod:          "mod",
	TokenEquals:       "equals",
	TokenEqual:        "equal",
	TokenGreaterWord:  "greater",
	TokenLessWord:     "less",
	TokenThan:         "than",
	TokenServe:        "serve",
	TokenCall:         "call",
	TokenFetch:        "fetch",
	TokenUpdate:       "update",
	TokenDelete:       "delete",
	TokenDatabase:     "database",
	TokenFormat:       "Format",
	TokenLayout:       "layout",
	TokenForm:         "form",
	TokenScreen:       "screen",
	TokenFragment:     "fragment",
	TokenHeaders:      "headers",
	TokenEnd:          "end",
	TokenEndModule:    "end module",
	TokenEndData:      "end data",
	TokenEndAction:    "end action",
	TokenEndTask:      "end task",
	TokenEndWhen:      "end when",
	TokenEndWhile:     "end while",
	TokenEndFor:       "end for",
	TokenEndLayout:    "end layout",
	TokenEndForm:      "end form",
	TokenEndScreen:    "end screen",
	TokenEndFragment:  "end fragment",
	TokenEndHeaders:   "end headers",
	TokenDividedBy:    "divided by",
	TokenDoesNotEqual: "does not equal",
}

func (k TokenKind) String() string {
	if name, ok := tokenNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", k)
}

// Token represents a lexical token.
type Token struct {
	Kind   TokenKind
	Lexeme string // source text; string tokens keep their quotes
	Line   int    // 1-based
	Column int    // 1-based
}

func (t Token) String() string {
	switch t.Kind {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	}
	if len(t.Lexeme) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Kind, t.Lexeme[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Kind, t.Lexeme)
}

// StringValue returns the content of a string token without its delimiters.
// For other tokens it returns the lexeme unchanged.
func (t Token) StringValue() string {
	if t.Kind == TokenString && len(t.Lexeme) >= 2 {
		return t.Lexeme[1 : len(t.Lexeme)-1]
	}
	return t.Lexeme
}

// Keywords mapped to their token kinds. Matching is case-sensitive.
var keywords = map[string]TokenKind{
	"true":      TokenTrue,
	"false":     TokenFalse,
	"null":      TokenNull,
	"nothing":   TokenNull,
	"module":    TokenModule,
	"data":      TokenData,
	"action":    TokenAction,
	"task":      TokenTask,
	"with":      TokenWith,
	"when":      TokenWhen,
	"then":      TokenThen,
	"otherwise": TokenOtherwise,
	"while":     TokenWhile,
	"do":        TokenDo,
	"for":       TokenFor,
	"each":      TokenEach,
	"in":        TokenIn,
	"display":   TokenDisplay,
	"set":       TokenSet,
	"to":        TokenTo,
	"which":     TokenWhich,
	"is":        TokenIs,
	"give":      TokenGive,
	"return":    TokenReturn,
	"include":   TokenInclude,
	"and":       TokenAnd,
	"or":        TokenOr,
	"not":       TokenNot,
	"plus":      TokenPlusWord,
	"minus":     TokenMinusWord,
	"times":     TokenTimes,
	"mod":       TokenMod,
	"equals":    TokenEquals,
	"equal":     TokenEqual,
	"greater":   TokenGreaterWord,
	"less":      TokenLessWord,
	"than":      TokenThan,
	"serve":     TokenServe,
	"call":      TokenCall,
	"fetch":     TokenFetch,
	"update":    TokenUpdate,
	"delete":    TokenDelete,
	"database":  TokenDatabase,
	"Format":    TokenFormat,
	"layout":    TokenLayout,
	"form":      TokenForm,
	"screen":    TokenScreen,
	"fragment":  TokenFragment,
	"headers":   TokenHeaders,
	"end":       TokenEnd,
}

// Words that may follow "end" to form a compound closer.
var closers = map[string]TokenKind{
	"module":   TokenEndModule,
	"data":     TokenEndData,
	"action":   TokenEndAction,
	"task":     TokenEndTask,
	"when":     TokenEndWhen,
	"while":    TokenEndWhile,
	"for":      TokenEndFor,
	"layout":   TokenEndLayout,
	"form":     TokenEndForm,
	"screen":   TokenEndScreen,
	"fragment": TokenEndFragment,
	"headers":  TokenEndHeaders,
}

// Keywords returns every keyword spelling, including compound closers, in
// sorted order. Used for editor completion.
func Keywords() []string {
	words := make([]string, 0, len(keywords)+len(closers))
	for w := range keywords {
		words = append(words, w)
	}
	for w := range closers {
		words = append(words, "end "+w)
	}
	sort.Strings(words)
	return words
}
