package simhash

import (
	"reflect"
	"testing"
)

func TestFingerprint_Deterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	if Fingerprint(text) != Fingerprint(text) {
		t.Error("identical texts produced different fingerprints")
	}
}

func TestFingerprint_IgnoresCaseAndPunctuation(t *testing.T) {
	a := Fingerprint("Great product! Arrived on time, works great.")
	b := Fingerprint("great product arrived on time works great")
	if a != b {
		t.Errorf("normalized texts differ: %064b vs %064b", a, b)
	}
}

func TestFingerprint_Distances(t *testing.T) {
	base := Fingerprint("the quick brown fox jumps over the lazy dog")
	near := Fingerprint("the quick brown fox leaps over the lazy dog")
	far := Fingerprint("completely unrelated content about quantum physics and mathematics")

	if d := Distance(base, near); d > 10 {
		t.Errorf("similar texts too far apart: %d", d)
	}
	if d := Distance(base, far); d < 5 {
		t.Errorf("different texts too close: %d", d)
	}
}

func TestFingerprint_Empty(t *testing.T) {
	for _, in := range []string{"", "   \n\t", "!!! ..."} {
		if fp := Fingerprint(in); fp != 0 {
			t.Errorf("Fingerprint(%q) = %064b, want 0", in, fp)
		}
	}
}

func TestDistanceAndSimilar(t *testing.T) {
	tests := []struct {
		a, b      uint64
		want      int
		threshold int
		similar   bool
	}{
		{0, 0, 0, 0, true},
		{0b1011, 0b0001, 2, 2, true},
		{0b1011, 0b0001, 2, 1, false},
		{0, ^uint64(0), 64, 63, false},
	}
	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("Distance(%b, %b) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Similar(tt.a, tt.b, tt.threshold); got != tt.similar {
			t.Errorf("Similar(%b, %b, %d) = %v, want %v", tt.a, tt.b, tt.threshold, got, tt.similar)
		}
	}
}

func TestSet_Add(t *testing.T) {
	var s Set
	s.Threshold = 3

	if s.Add("alice", "Loved it, would buy again.") {
		t.Fatal("first text reported as duplicate")
	}
	if !s.Add("alice", "loved it would buy again") {
		t.Error("re-posted review not flagged")
	}
	if s.Add("bob", "loved it would buy again") {
		t.Error("same text from another reviewer flagged")
	}
	if s.Add("alice", "Terrible battery life and the screen cracked within a week of normal use.") {
		t.Error("different review from same reviewer flagged")
	}
	if s.Add("alice", "") || s.Add("alice", "") {
		t.Error("empty texts must never be duplicates")
	}
}

func TestFingerprintDOM(t *testing.T) {
	listing := `<html><body><div><ul><li>a</li><li>b</li><li>c</li></ul></div></body></html>`
	sameShape := `<html><body><div><ul><li>x</li><li>y</li><li>z</li></ul></div></body></html>`
	withScripts := `<html><head><script>1</script><meta charset="utf-8"></head><body><div><ul><li>a</li><li>b</li><li>c</li></ul></div></body></html>`
	table := `<html><body><table><tr><td>1</td></tr><tr><td>2</td></tr></table><form><input><button>go</button></form></body></html>`

	if FingerprintDOM(listing) != FingerprintDOM(sameShape) {
		t.Error("text changes altered the structural fingerprint")
	}
	if FingerprintDOM(listing) != FingerprintDOM(withScripts) {
		t.Error("script and meta tags altered the structural fingerprint")
	}
	if d := Distance(FingerprintDOM(listing), FingerprintDOM(table)); d < 5 {
		t.Errorf("different structures too close: %d", d)
	}
	if FingerprintDOM("") != 0 || FingerprintDOM("plain text") != 0 {
		t.Error("documents without tags should fingerprint to 0")
	}
	if FingerprintDOM("<p>") == 0 {
		t.Error("a single tag should fingerprint to non-zero")
	}
}

func TestCompare(t *testing.T) {
	static := `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`
	rendered := `<html><body><div id="root"><header><nav><a>Home</a></nav></header>
		<main><article><h1>Catalog</h1><ul><li>Widget</li><li>Gadget</li></ul></article></main></div></body></html>`

	same := Compare(rendered, rendered)
	if !same.Equivalent(0) {
		t.Errorf("document differs from itself: %+v", same)
	}
	drift := Compare(static, rendered)
	if drift.Equivalent(3) {
		t.Errorf("empty shell judged equivalent to rendered page: %+v", drift)
	}
}

func TestTagSequenceAndShingles(t *testing.T) {
	got := tagSequence(`<div><p>a<br/></p><script>x</script><span></span></div>`)
	want := []string{"div", "p", "br", "span"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tagSequence = %v, want %v", got, want)
	}
	if sh := shingles([]string{"a", "b"}, 3); sh != nil {
		t.Errorf("shingles of too few tokens = %v, want nil", sh)
	}
	if sh := shingles(want, 3); !reflect.DeepEqual(sh, []string{"div_p_br", "p_br_span"}) {
		t.Errorf("shingles = %v", sh)
	}
}
