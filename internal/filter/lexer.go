package filter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Lexer tokenizes WHERE clause strings
type Lexer struct {
	input string
	pos   int // offset of the byte after ch
	start int // offset of ch
	ch    rune
}

// NewLexer creates a new lexer
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

// readChar reads the next character
func (l *Lexer) readChar() {
	l.start = l.pos
	if l.pos >= len(l.input) {
		l.ch = 0
		l.pos++
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.ch = r
	l.pos += size
}

// peekChar looks at the next character without advancing
func (l *Lexer) peekChar() rune {
	if l.pos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r
}

func (l *Lexer) skipWhitespace() {
	for unicode.IsSpace(l.ch) {
		l.readChar()
	}
}

// readString reads a quoted string. A doubled quote inside the literal
// stands for one quote character, as does a backslash escape.
func (l *Lexer) readString(quote rune) (string, bool) {
	var result strings.Builder
	l.readChar() // skip opening quote

	for l.ch != 0 {
		if l.ch == quote {
			if l.peekChar() == quote {
				result.WriteRune(quote)
				l.readChar()
				l.readChar()
				continue
			}
			l.readChar() // skip closing quote
			return result.String(), true
		}
		if l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case 'n':
				result.WriteRune('\n')
			case 't':
				result.WriteRune('\t')
			case 0:
				return result.String(), false
			default:
				result.WriteRune(l.ch)
			}
		} else {
			result.WriteRune(l.ch)
		}
		l.readChar()
	}

	return result.String(), false
}

func (l *Lexer) readNumber() string {
	var result strings.Builder
	if l.ch == '-' || l.ch == '+' {
		result.WriteRune(l.ch)
		l.readChar()
	}
	for unicode.IsDigit(l.ch) || l.ch == '.' || l.ch == 'e' || l.ch == 'E' {
		if (l.ch == 'e' || l.ch == 'E') && (l.peekChar() == '-' || l.peekChar() == '+') {
			result.WriteRune(l.ch)
			l.readChar()
		}
		result.WriteRune(l.ch)
		l.readChar()
	}
	return result.String()
}

// readIdentifier reads an identifier or keyword. Dots are kept so that
// nested fields can be addressed as "address.city".
func (l *Lexer) readIdentifier() string {
	var result strings.Builder
	for unicode.IsLetter(l.ch) || unicode.IsDigit(l.ch) || l.ch == '_' || l.ch == '.' {
		result.WriteRune(l.ch)
		l.readChar()
	}
	return result.String()
}

// NextToken returns the next token
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	pos := l.start
	tok := Token{Pos: pos}

	switch l.ch {
	case 0:
		tok.Type = TokenEOF
	case '=':
		tok.Type, tok.Value = TokenEqual, "="
		l.readChar()
		if l.ch == '=' {
			l.readChar()
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Value = TokenNotEqual, "!="
		} else {
			tok.Type, tok.Value = TokenError, "!"
		}
		l.readChar()
	case '<':
		switch l.peekChar() {
		case '=':
			l.readChar()
			tok.Type, tok.Value = TokenLessEqual, "<="
		case '>':
			l.readChar()
			tok.Type, tok.Value = TokenNotEqual, "<>"
		default:
			tok.Type, tok.Value = TokenLess, "<"
		}
		l.readChar()
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Value = TokenGreaterEqual, ">="
		} else {
			tok.Type, tok.Value = TokenGreater, ">"
		}
		l.readChar()
	case '(':
		tok.Type, tok.Value = TokenLParen, "("
		l.readChar()
	case ')':
		tok.Type, tok.Value = TokenRParen, ")"
		l.readChar()
	case ',':
		tok.Type, tok.Value = TokenComma, ","
		l.readChar()
	case '\'', '"':
		value, ok := l.readString(l.ch)
		if !ok {
			tok.Type, tok.Value = TokenError, "unterminated string"
			break
		}
		tok.Type, tok.Value = TokenString, value
	case '`':
		value, ok := l.readString('`')
		if !ok {
			tok.Type, tok.Value = TokenError, "unterminated identifier"
			break
		}
		tok.Type, tok.Value = TokenIdent, value
	default:
		switch {
		case unicode.IsDigit(l.ch),
			(l.ch == '-' || l.ch == '+' || l.ch == '.') && unicode.IsDigit(l.peekChar()):
			tok.Type, tok.Value = TokenNumber, l.readNumber()
		case unicode.IsLetter(l.ch) || l.ch == '_':
			value := l.readIdentifier()
			tok.Type, tok.Value = identifierType(value), value
		default:
			tok.Type, tok.Value = TokenError, string(l.ch)
			l.readChar()
		}
	}

	return tok
}

var keywords = map[string]TokenType{
	"AND":     TokenAnd,
	"OR":      TokenOr,
	"NOT":     TokenNot,
	"IN":      TokenIn,
	"BETWEEN": TokenBetween,
	"LIKE":    TokenLike,
	"IS":      TokenIs,
	"NULL":    TokenNull,
	"TRUE":    TokenBool,
	"FALSE":   TokenBool,
}

// identifierType determines if an identifier is a keyword
func identifierType(ident string) TokenType {
	if tokType, ok := keywords[strings.ToUpper(ident)]; ok {
		return tokType
	}
	return TokenIdent
}

// Tokenize returns all tokens from the input
func Tokenize(input string) []Token {
	lexer := NewLexer(input)
	var tokens []Token

	for {
		tok := lexer.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}

	return tokens
}
