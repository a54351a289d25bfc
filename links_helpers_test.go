package cogmem

import "testing"

func TestJaccardSetsBasics(t *testing.T) {
	a := stringSet([]string{"auth", "jwt"})
	b := stringSet([]string{"jwt", "middleware"})
	sim := jaccardSets(a, b)
	// intersection={jwt}=1, union={auth,jwt,middleware}=3
	if sim < 0.33-0.01 || sim > 0.33+0.01 {
		t.Errorf("expected ~0.33, got %.3f", sim)
	}
}

func TestJaccardSetsIdentity(t *testing.T) {
	a := stringSet([]string{"x", "y", "z"})
	if jaccardSets(a, a) != 1.0 {
		t.Error("jaccard of a set with itself should be 1.0")
	}
}

func TestJaccardSetsEmpty(t *testing.T) {
	a := stringSet(nil)
	b := stringSet([]string{"x"})
	if jaccardSets(a, b) != 0 {
		t.Error("empty set should yield jaccard 0")
	}
}

func TestIntersectionSize(t *testing.T) {
	a := stringSet([]string{"a", "b", "c"})
	b := stringSet([]string{"b", "c", "d"})
	if n := intersectionSize(a, b); n != 2 {
		t.Errorf("expected intersection size 2, got %d", n)
	}
}

func TestStringSetLowercases(t *testing.T) {
	s := stringSet([]string{"JWT", "Auth"})
	if !s["jwt"] || !s["auth"] {
		t.Errorf("stringSet should lowercase tags, got %v", s)
	}
}

func TestContentTokenSetDropsShortTokens(t *testing.T) {
	set := contentTokenSet("a an of go routine")
	if set["a"] || set["an"] || set["of"] || set["go"] {
		t.Errorf("tokens of length <= 2 should be dropped, got %v", set)
	}
	if !set["routine"] {
		t.Errorf("longer tokens should survive, got %v", set)
	}
}

func TestTokenSetDropsStopwords(t *testing.T) {
	set := tokenSet("the quick brown fox and the lazy dog")
	if set["the"] || set["and"] {
		t.Errorf("stopwords should be dropped, got %v", set)
	}
	if !set["quick"] || !set["lazy"] {
		t.Errorf("content words should survive, got %v", set)
	}
}

func TestTokenSetStripsPunctuation(t *testing.T) {
	set := tokenSet("hello, world! (parens) \"quoted\"")
	if !set["hello"] || !set["world"] || !set["parens"] || !set["quoted"] {
		t.Errorf("punctuation should be stripped from tokens, got %v", set)
	}
}
