package eval

import "testing"

func lexAll(t *testing.T, src string) []Token {
	l := NewLexer(src)
	var toks []Token
	for {
		tok, err := l.Next()
		if err != nil {
			t.Fatalf("lexing %q: %v", src, err)
		}
		toks = append(toks, tok)
		if tok.Kind == TokEOF {
			return toks
		}
	}
}

func TestLexerBasicTokens(t *testing.T) {
	toks := lexAll(t, `foo.bar[0x1f] == 3.5 && !baz`)
	var kinds []TokenKind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	want := []TokenKind{
		TokIdent, TokPunct, TokIdent, TokPunct, TokInt, TokPunct,
		TokPunct, TokFloat, TokPunct, TokPunct, TokIdent, TokEOF,
	}
	if len(kinds) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(kinds), len(want), toks)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("token %d: got kind %v, want %v (text %q)", i, kinds[i], want[i], toks[i].Text)
		}
	}
}

func TestLexerTwoCharPuncts(t *testing.T) {
	for _, p := range twoCharPuncts {
		toks := lexAll(t, p)
		if len(toks) != 2 || toks[0].Text != p {
			t.Errorf("lexing %q: got %v", p, toks)
		}
	}
}

func TestLexerHexAndString(t *testing.T) {
	toks := lexAll(t, `0xFF "a\nb"`)
	if toks[0].Kind != TokInt || toks[0].Text != "0xFF" {
		t.Errorf("hex literal: got %+v", toks[0])
	}
	if toks[1].Kind != TokString || toks[1].Text != "a\nb" {
		t.Errorf("string literal: got %+v", toks[1])
	}
}

func TestLexerKeywords(t *testing.T) {
	toks := lexAll(t, "x as Foo")
	if toks[0].Kind != TokIdent {
		t.Errorf("x: got %+v", toks[0])
	}
	if toks[1].Kind != TokKeyword || toks[1].Text != "as" {
		t.Errorf("as: got %+v", toks[1])
	}
}

func TestParseIntLiteral(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0", 0},
		{"42", 42},
		{"0x2a", 42},
		{"0XFF", 255},
	}
	for _, c := range cases {
		got, err := ParseIntLiteral(c.in)
		if err != nil {
			t.Fatalf("ParseIntLiteral(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseIntLiteral(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
