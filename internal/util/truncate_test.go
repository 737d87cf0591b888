package util

import "testing"

func TestTruncateLinesAndBytes(t *testing.T) {
	lines := []string{"alpha", "beta", "gamma"}
	out, truncated, n := TruncateLinesAndBytes(lines, 2, 0)
	if !truncated || len(out) != 2 || n != len("alpha")+1+len("beta") {
		t.Fatalf("unexpected result %v %v %d", out, truncated, n)
	}
	if got := Preview("a\nb\nc", 1, 100); got != "a" {
		t.Fatalf("unexpected preview %q", got)
	}
	if s, did := TruncateBytes("abcdef", 3); !did || s != "abc" {
		t.Fatalf("unexpected truncation %q %v", s, did)
	}
	if s, did := TruncateBytes("名称非法", 4); !did || s != "名" {
		t.Fatalf("rune split: %q %v", s, did)
	}
}
