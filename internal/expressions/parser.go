package expressions

import "strings"

// Node is a parsed expression tree node.
type Node interface {
	kindName() string
}

type numberLit struct {
	val float64
}

type stringLit struct {
	val string
}

type boolLit struct {
	val bool
}

// varRef is a $variable reference, optionally with a dotted path into
// map and list values ($user.address.city, $rows.0).
type varRef struct {
	name string
	path []string
}

type unaryExpr struct {
	op      tokenKind // tokenMinus or tokenNot
	operand Node
}

type binaryExpr struct {
	op    tokenKind
	left  Node
	right Node
}

type ternaryExpr struct {
	cond Node
	then Node
	els  Node
}

type callExpr struct {
	name string
	args []Node
}

func (numberLit) kindName() string   { return "number" }
func (stringLit) kindName() string   { return "string" }
func (boolLit) kindName() string     { return "boolean" }
func (varRef) kindName() string      { return "variable" }
func (unaryExpr) kindName() string   { return "unary" }
func (binaryExpr) kindName() string  { return "binary" }
func (ternaryExpr) kindName() string { return "ternary" }
func (callExpr) kindName() string    { return "call" }

// Parse tokenizes and parses an expression into a tree. Malformed input
// is an EXPRESSION_SYNTAX error.
func Parse(input string) (Node, error) {
	if strings.TrimSpace(input) == "" {
		return nil, syntaxErrorf(0, "empty expression")
	}
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	node, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		t := p.peek()
		return nil, syntaxErrorf(t.pos, "unexpected %s after expression", t.kind)
	}
	return node, nil
}

// parser is a recursive-descent parser over the token stream.
// Precedence, loosest first: ternary, OR, AND, NOT, comparison,
// additive, multiplicative, unary minus, primary.
type parser struct {
	tokens []token
	idx    int
}

func (p *parser) peek() token {
	return p.tokens[p.idx]
}

func (p *parser) next() token {
	t := p.tokens[p.idx]
	if p.idx < len(p.tokens)-1 {
		p.idx++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.peek()
	if t.kind != kind {
		return token{}, syntaxErrorf(t.pos, "expected %s, found %s", kind, t.kind)
	}
	return p.next(), nil
}

func (p *parser) parseTernary() (Node, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenQuestion {
		return cond, nil
	}
	p.next()

	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenColon); err != nil {
		return nil, err
	}
	els, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return ternaryExpr{cond: cond, then: then, els: els}, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: tokenOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: tokenAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if p.peek().kind == tokenNot {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: tokenNot, operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	switch op := p.peek().kind; op {
	case tokenEq, tokenNeq, tokenGt, tokenGte, tokenLt, tokenLte:
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		return binaryExpr{op: op, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().kind
		if op != tokenPlus && op != tokenMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().kind
		if op != tokenStar && op != tokenSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.peek().kind == tokenMinus {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryExpr{op: tokenMinus, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.kind {
	case tokenNumber:
		p.next()
		return numberLit{val: t.num}, nil

	case tokenString:
		p.next()
		return stringLit{val: t.text}, nil

	case tokenTrue:
		p.next()
		return boolLit{val: true}, nil

	case tokenFalse:
		p.next()
		return boolLit{val: false}, nil

	case tokenVariable:
		p.next()
		parts := strings.Split(t.text, ".")
		for _, part := range parts {
			if part == "" {
				return nil, syntaxErrorf(t.pos, "malformed variable path $%s", t.text)
			}
		}
		return varRef{name: parts[0], path: parts[1:]}, nil

	case tokenIdent:
		p.next()
		if _, err := p.expect(tokenLParen); err != nil {
			return nil, syntaxErrorf(t.pos, "unexpected identifier %q, functions require parentheses", t.text)
		}
		return p.parseCallArgs(t.text)

	case tokenLParen:
		p.next()
		inner, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		return inner, nil

	default:
		return nil, syntaxErrorf(t.pos, "unexpected %s", t.kind)
	}
}

func (p *parser) parseCallArgs(name string) (Node, error) {
	call := callExpr{name: name}
	if p.peek().kind == tokenRParen {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		call.args = append(call.args, arg)

		switch p.peek().kind {
		case tokenComma:
			p.next()
		case tokenRParen:
			p.next()
			return call, nil
		default:
			t := p.peek()
			return nil, syntaxErrorf(t.pos, "expected , or ) in arguments of %s, found %s", name, t.kind)
		}
	}
}
