package whitelist

import (
	"sort"
	"strconv"
	"testing"
)

func TestIsWhitelistedExactSubdomainWildcardRegex(t *testing.T) {
	spec := Compile("example.com\n@@sub.example.net\n*.foo.com\n/^bar\\d+\\.com$/\n")

	cases := map[string]bool{
		"example.com":         true,
		"other.com":           false,
		"sub.example.net":     true,
		"deep.sub.example.net": true,
		"unrelated.net":       false,
		"x.foo.com":           true,
		"foo.com":             false, // "*" may match empty, but the literal "." before "foo.com" must be present
		"bar123.com":          true,
		"barabc.com":          false,
	}

	for domain, want := range cases {
		if got := spec.IsWhitelisted(domain); got != want {
			t.Errorf("IsWhitelisted(%q) = %v, want %v", domain, got, want)
		}
	}
}

func TestCompileDropsInvalidRegexWithWarning(t *testing.T) {
	spec := Compile("example.com\n/(unclosed/\n")
	if len(spec.Dropped) != 1 {
		t.Fatalf("expected exactly one dropped pattern, got %d: %+v", len(spec.Dropped), spec.Dropped)
	}
	if !spec.IsWhitelisted("example.com") {
		t.Error("expected the valid pattern to still compile and match")
	}
}

func TestIsWhitelistedStableAcrossReparse(t *testing.T) {
	raw := "example.com\n@@sub.net\n*.wild.com\n"
	spec := Compile(raw)
	reparsed := Compile(Compile(raw).renderForTest())

	domains := []string{"example.com", "sub.net", "a.wild.com", "nothing.io"}
	for _, d := range domains {
		if spec.IsWhitelisted(d) != reparsed.IsWhitelisted(d) {
			t.Errorf("IsWhitelisted(%q) differs between direct and round-tripped spec", d)
		}
	}
}

func TestFilterPartitionsCoverInputExactly(t *testing.T) {
	spec := Compile("blocked.example.com\n@@ok.example.net\n")
	domains := []string{
		"blocked.example.com", "keep-one.com", "keep-two.com", "ok.example.net", "keep-three.com",
	}

	result := Filter(spec, domains)

	seen := make(map[string]bool, len(domains))
	for _, d := range result.Kept {
		seen[d] = true
	}
	removedCount := 0
	for _, d := range domains {
		if spec.IsWhitelisted(d) {
			removedCount++
			if seen[d] {
				t.Errorf("domain %q should have been removed, found in kept", d)
			}
		} else if !seen[d] {
			t.Errorf("domain %q should have been kept, missing", d)
		}
	}
	if result.RemovedCount != removedCount {
		t.Errorf("RemovedCount = %d, want %d", result.RemovedCount, removedCount)
	}
	if len(result.Kept)+result.RemovedCount != len(domains) {
		t.Errorf("kept+removed = %d, want %d", len(result.Kept)+result.RemovedCount, len(domains))
	}
}

func TestFilterTopPatternsSortedDescendingAndTruncated(t *testing.T) {
	var lines []string
	for i := 0; i < 25; i++ {
		lines = append(lines, "pattern"+strconv.Itoa(i)+".com")
	}
	spec := Compile(joinLines(lines))

	var domains []string
	// pattern0 matches 3 times, pattern1 matches 2 times, the rest 1 time.
	domains = append(domains, "pattern0.com", "pattern0.com", "pattern0.com")
	domains = append(domains, "pattern1.com", "pattern1.com")
	for i := 2; i < 25; i++ {
		domains = append(domains, "pattern"+strconv.Itoa(i)+".com")
	}

	result := Filter(spec, domains)
	if len(result.TopPatterns) > 20 {
		t.Fatalf("expected at most 20 top patterns, got %d", len(result.TopPatterns))
	}
	if !sort.SliceIsSorted(result.TopPatterns, func(i, j int) bool { return result.TopPatterns[i].Count > result.TopPatterns[j].Count }) {
		t.Error("expected TopPatterns sorted descending by count")
	}
	if result.TopPatterns[0].Pattern != "pattern0.com" {
		t.Errorf("expected top pattern to be pattern0.com, got %q", result.TopPatterns[0].Pattern)
	}
}

func joinLines(lines []string) string {
	out := ""
	for _, l := range lines {
		out += l + "\n"
	}
	return out
}

// renderForTest exposes the compiled pattern lines joined back into the
// whitelist language, for the round-trip stability test above.
func (s *Spec) renderForTest() string {
	return joinLines(s.patterns)
}
