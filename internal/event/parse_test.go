package event

import "testing"

func TestParseTemplatePlainText(t *testing.T) {
	nodes, err := parseTemplate("hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 {
		t.Fatalf("got %d nodes, want 1", len(nodes))
	}
	tn, ok := nodes[0].(textNode)
	if !ok || tn.text != "hello" {
		t.Fatalf("got %#v", nodes[0])
	}
}

func TestParseTemplateVar(t *testing.T) {
	nodes, err := parseTemplate("hi %name%")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("got %d nodes, want 2", len(nodes))
	}
	if vn, ok := nodes[1].(varNode); !ok || vn.raw != "name" {
		t.Fatalf("got %#v", nodes[1])
	}
}

func TestParseTemplateUnterminatedFor(t *testing.T) {
	if _, err := parseTemplate("%for i in 0..2%%i%"); err == nil {
		t.Fatal("expected an error for a missing endfor tag")
	}
}

func TestParseTemplateMismatchedEnd(t *testing.T) {
	if _, err := parseTemplate("%if 1<2%x%endfor%"); err == nil {
		t.Fatal("expected an error for an endfor tag closing an if block")
	}
}

func TestParseForHeaderRange(t *testing.T) {
	f, err := parseForHeader("for i in 0..3")
	if err != nil {
		t.Fatal(err)
	}
	if f.ident != "i" || f.rng.from != "0" || f.rng.to != "3" {
		t.Fatalf("got %#v", f)
	}
}

func TestParseForHeaderList(t *testing.T) {
	f, err := parseForHeader("for x in [a, b, c]")
	if err != nil {
		t.Fatal(err)
	}
	if !f.rng.isList || len(f.rng.items) != 3 || f.rng.items[1] != "b" {
		t.Fatalf("got %#v", f.rng)
	}
}

func TestParseForHeaderMalformed(t *testing.T) {
	if _, err := parseForHeader("for i 0..3"); err == nil {
		t.Fatal("expected an error for a missing \"in\"")
	}
}

func TestParseIfHeaderOperators(t *testing.T) {
	cases := []struct {
		header string
		op     string
	}{
		{"if a==b", "=="},
		{"if a!=b", "!="},
		{"if a<=b", "<="},
		{"if a>=b", ">="},
		{"if a<b", "<"},
		{"if a>b", ">"},
	}
	for _, c := range cases {
		n, err := parseIfHeader(c.header)
		if err != nil {
			t.Fatalf("%s: %v", c.header, err)
		}
		if n.op != c.op || n.left != "a" || n.right != "b" {
			t.Errorf("%s: got %#v", c.header, n)
		}
	}
}

func TestParseIfHeaderMalformed(t *testing.T) {
	if _, err := parseIfHeader("if a"); err == nil {
		t.Fatal("expected an error for a missing operator")
	}
}

func TestMatchesEventWildcards(t *testing.T) {
	if !matchesEvent([]string{"*"}, MatchDone) {
		t.Error("\"*\" should match any event")
	}
	if !matchesEvent([]string{"all"}, DoLockout) {
		t.Error("\"all\" should match any event")
	}
	if !matchesEvent([]string{"match_done"}, MatchDone) {
		t.Error("exact name should match")
	}
	if matchesEvent([]string{"match_done"}, DoLockout) {
		t.Error("unrelated name should not match")
	}
}
