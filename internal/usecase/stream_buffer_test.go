//go:build !integration

package usecase

import (
	"strings"
	"testing"
)

// runBuffer feeds fragments and returns the emitted outputs in order.
func runBuffer(frags []string) ([]string, *StreamBuffer) {
	b := NewStreamBuffer(Sentinel)
	var out []string
	for _, f := range frags {
		if s := b.Feed(f); s != "" {
			out = append(out, s)
		}
		if b.Sentinel() {
			break
		}
	}
	if s := b.Flush(); s != "" {
		out = append(out, s)
	}
	return out, b
}

// splits returns every way to cut s into pieces of size 1..3 for short strings,
// and every fixed-size chunking for longer ones.
func splits(s string) [][]string {
	if len(s) > 10 {
		var res [][]string
		for k := 1; k <= len(s); k++ {
			var frags []string
			for i := 0; i < len(s); i += k {
				frags = append(frags, s[i:min(i+k, len(s))])
			}
			res = append(res, frags)
		}
		return res
	}
	return allSplits(s)
}

func allSplits(s string) [][]string {
	if s == "" {
		return [][]string{{}}
	}
	var res [][]string
	for n := 1; n <= 3 && n <= len(s); n++ {
		for _, rest := range allSplits(s[n:]) {
			res = append(res, append([]string{s[:n]}, rest...))
		}
	}
	return res
}

func TestStreamBuffer_SentinelNeverEmitted(t *testing.T) {
	for _, frags := range splits(Sentinel) {
		out, b := runBuffer(frags)
		if len(out) != 0 {
			t.Fatalf("fragments %q: expected no output, got %q", frags, out)
		}
		if !b.Sentinel() {
			t.Fatalf("fragments %q: expected sentinel verdict", frags)
		}
	}
}

func TestStreamBuffer_SentinelSplitAcrossDeltas(t *testing.T) {
	out, b := runBuffer([]string{"DO", "NE"})
	if len(out) != 0 || !b.Sentinel() {
		t.Fatalf("expected silent sentinel, got out=%q sentinel=%v", out, b.Sentinel())
	}
}

func TestStreamBuffer_FragmentationInvariant(t *testing.T) {
	replies := []string{
		"Why do you think that?",
		"DON'T",
		"Do you mean the price?",
		"DOE",
		"Ok",
		"A",
		"What about DONE?",
	}
	for _, reply := range replies {
		for _, frags := range splits(reply) {
			out, b := runBuffer(frags)
			if b.Sentinel() {
				t.Fatalf("reply %q fragments %q: unexpected sentinel verdict", reply, frags)
			}
			if got := strings.Join(out, ""); got != reply {
				t.Fatalf("reply %q fragments %q: expected full output, got %q", reply, frags, got)
			}
			if b.Text() != reply {
				t.Fatalf("reply %q: Text() = %q", reply, b.Text())
			}
		}
	}
}

func TestStreamBuffer_CatchUpThenVerbatim(t *testing.T) {
	b := NewStreamBuffer(Sentinel)
	steps := []struct {
		in, out string
	}{
		{"Wh", ""},
		{"at", "What"},
		{" do", " do"},
		{"", ""},
		{" you", " you"},
	}
	for i, st := range steps {
		if got := b.Feed(st.in); got != st.out {
			t.Fatalf("step %d: Feed(%q) = %q, expected %q", i, st.in, got, st.out)
		}
	}
	if !b.Decided() || b.Sentinel() {
		t.Fatalf("expected decided non-sentinel")
	}
	if got := b.Flush(); got != "" {
		t.Fatalf("flush after decision must be empty, got %q", got)
	}
}

func TestStreamBuffer_ShortReplyFlushed(t *testing.T) {
	b := NewStreamBuffer(Sentinel)
	if got := b.Feed("No"); got != "" {
		t.Fatalf("short prefix must be withheld, got %q", got)
	}
	if b.Decided() {
		t.Fatalf("must not decide below sentinel length")
	}
	if got := b.Flush(); got != "No" {
		t.Fatalf("expected flush of %q, got %q", "No", got)
	}
	if b.Sentinel() {
		t.Fatalf("short reply is not the sentinel")
	}
}

func TestStreamBuffer_PrefixedSentinel(t *testing.T) {
	out, b := runBuffer([]string{"DONE", ".", " Thanks"})
	if !b.Sentinel() || len(out) != 0 {
		t.Fatalf("reply starting with the sentinel must be classified as sentinel, out=%q", out)
	}
}
