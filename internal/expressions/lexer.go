package expressions

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/Phazzie/autoclick/pkg/schema"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenVariable // $name or $name.path
	tokenTrue
	tokenFalse
	tokenAnd
	tokenOr
	tokenNot
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenEq
	tokenNeq
	tokenGt
	tokenGte
	tokenLt
	tokenLte
	tokenQuestion
	tokenColon
	tokenLParen
	tokenRParen
	tokenComma
)

var tokenNames = map[tokenKind]string{
	tokenEOF:      "end of expression",
	tokenNumber:   "number",
	tokenString:   "string",
	tokenIdent:    "identifier",
	tokenVariable: "variable",
	tokenTrue:     "true",
	tokenFalse:    "false",
	tokenAnd:      "AND",
	tokenOr:       "OR",
	tokenNot:      "NOT",
	tokenPlus:     "+",
	tokenMinus:    "-",
	tokenStar:     "*",
	tokenSlash:    "/",
	tokenEq:       "==",
	tokenNeq:      "!=",
	tokenGt:       ">",
	tokenGte:      ">=",
	tokenLt:       "<",
	tokenLte:      "<=",
	tokenQuestion: "?",
	tokenColon:    ":",
	tokenLParen:   "(",
	tokenRParen:   ")",
	tokenComma:    ",",
}

func (k tokenKind) String() string {
	if n, ok := tokenNames[k]; ok {
		return n
	}
	return "unknown token"
}

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// tokenize splits an expression into tokens. Positions are byte offsets
// into the input, reported in syntax errors.
func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	n := len(input)

	for i < n {
		c := input[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '$':
			start := i
			i++
			j := i
			for j < n && (isIdentChar(input[j]) || input[j] == '.') {
				j++
			}
			name := input[i:j]
			name = strings.TrimSuffix(name, ".")
			if name == "" {
				return nil, syntaxErrorf(start, "bare $ without a variable name")
			}
			tokens = append(tokens, token{kind: tokenVariable, text: name, pos: start})
			i = start + 1 + len(name)

		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < n {
				if input[i] == '\\' && i+1 < n {
					sb.WriteByte(unescape(input[i+1]))
					i += 2
					continue
				}
				if input[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteByte(input[i])
				i++
			}
			if !closed {
				return nil, syntaxErrorf(start, "unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokenString, text: sb.String(), pos: start})

		case c >= '0' && c <= '9':
			start := i
			j := i
			seenDot := false
			for j < n && (input[j] >= '0' && input[j] <= '9' || input[j] == '.' && !seenDot) {
				if input[j] == '.' {
					// A dot not followed by a digit ends the number.
					if j+1 >= n || input[j+1] < '0' || input[j+1] > '9' {
						break
					}
					seenDot = true
				}
				j++
			}
			text := input[start:j]
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, syntaxErrorf(start, "invalid number %q", text)
			}
			tokens = append(tokens, token{kind: tokenNumber, text: text, num: f, pos: start})
			i = j

		case isIdentStart(rune(c)):
			start := i
			j := i
			for j < n && isIdentChar(input[j]) {
				j++
			}
			word := input[start:j]
			tokens = append(tokens, keywordToken(word, start))
			i = j

		default:
			tok, width, err := operatorToken(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i += width
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, pos: n})
	return tokens, nil
}

func keywordToken(word string, pos int) token {
	switch strings.ToUpper(word) {
	case "AND":
		return token{kind: tokenAnd, text: word, pos: pos}
	case "OR":
		return token{kind: tokenOr, text: word, pos: pos}
	case "NOT":
		return token{kind: tokenNot, text: word, pos: pos}
	}
	switch word {
	case "true":
		return token{kind: tokenTrue, text: word, pos: pos}
	case "false":
		return token{kind: tokenFalse, text: word, pos: pos}
	}
	return token{kind: tokenIdent, text: word, pos: pos}
}

func operatorToken(input string, i int) (token, int, error) {
	two := ""
	if i+1 < len(input) {
		two = input[i : i+2]
	}
	switch two {
	case "==":
		return token{kind: tokenEq, text: two, pos: i}, 2, nil
	case "!=":
		return token{kind: tokenNeq, text: two, pos: i}, 2, nil
	case ">=":
		return token{kind: tokenGte, text: two, pos: i}, 2, nil
	case "<=":
		return token{kind: tokenLte, text: two, pos: i}, 2, nil
	}

	switch input[i] {
	case '+':
		return token{kind: tokenPlus, text: "+", pos: i}, 1, nil
	case '-':
		return token{kind: tokenMinus, text: "-", pos: i}, 1, nil
	case '*':
		return token{kind: tokenStar, text: "*", pos: i}, 1, nil
	case '/':
		return token{kind: tokenSlash, text: "/", pos: i}, 1, nil
	case '>':
		return token{kind: tokenGt, text: ">", pos: i}, 1, nil
	case '<':
		return token{kind: tokenLt, text: "<", pos: i}, 1, nil
	case '?':
		return token{kind: tokenQuestion, text: "?", pos: i}, 1, nil
	case ':':
		return token{kind: tokenColon, text: ":", pos: i}, 1, nil
	case '(':
		return token{kind: tokenLParen, text: "(", pos: i}, 1, nil
	case ')':
		return token{kind: tokenRParen, text: ")", pos: i}, 1, nil
	case ',':
		return token{kind: tokenComma, text: ",", pos: i}, 1, nil
	}
	return token{}, 0, syntaxErrorf(i, "unexpected character %q", string(input[i]))
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return c
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func syntaxErrorf(pos int, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeExpressionSyntax, format, args...).
		WithDetails(map[string]any{"position": pos})
}
