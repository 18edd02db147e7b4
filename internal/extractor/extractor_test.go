package extractor

import (
	"sort"
	"testing"
)

func TestExtractHostsPlainAdblock(t *testing.T) {
	raw := []byte("0.0.0.0 ads.example.com\n" +
		"plain-domain.example.net\n" +
		"||tracker.example.org^\n" +
		"# comment line\n" +
		"! bang comment\n" +
		"\n")

	result := Extract(raw)
	got := append([]string(nil), result.Domains...)
	sort.Strings(got)

	want := []string{"ads.example.com", "plain-domain.example.net", "tracker.example.org"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("domain %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractSkipsCosmeticAndSuppressedAdblockModifiers(t *testing.T) {
	raw := []byte("example.com##.ad-banner\n" +
		"||facebook.com^$third-party\n" +
		"||evil.com^\n")

	result := Extract(raw)
	if len(result.Domains) != 1 || result.Domains[0] != "evil.com" {
		t.Fatalf("expected only evil.com extracted, got %v", result.Domains)
	}
}

func TestExtractLowercasesDomains(t *testing.T) {
	result := Extract([]byte("EXAMPLE.COM\n"))
	if len(result.Domains) != 1 || result.Domains[0] != "example.com" {
		t.Fatalf("expected lowercased domain, got %v", result.Domains)
	}
}

func TestExtractPreservesImportantAndAllModifiers(t *testing.T) {
	raw := []byte("||keep-important.com^$important\n||keep-all.com^$all\n")
	result := Extract(raw)
	if len(result.Domains) != 2 {
		t.Fatalf("expected both domains kept, got %v", result.Domains)
	}
}

func TestSortIsPermutationAndNonDecreasing(t *testing.T) {
	input := []string{"z.com", "a.com", "m.com", "a.com"}
	domains := append([]string(nil), input...)
	Sort(domains)

	for i := 1; i < len(domains); i++ {
		if domains[i-1] > domains[i] {
			t.Fatalf("not sorted: %v", domains)
		}
	}

	count := make(map[string]int)
	for _, d := range input {
		count[d]++
	}
	for _, d := range domains {
		count[d]--
	}
	for d, c := range count {
		if c != 0 {
			t.Fatalf("sort is not a permutation of input: %q count off by %d", d, c)
		}
	}
}
