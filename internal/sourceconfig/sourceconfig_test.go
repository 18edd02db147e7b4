package sourceconfig

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	raw := strings.Join([]string{
		"# a comment",
		"",
		"https://a.example/list.txt",
		"https://b.example/list.txt|B List",
		"https://c.example/list.txt|C List|ads",
		"https://a.example/list.txt", // duplicate, dropped
	}, "\n")

	sources, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("expected 3 sources, got %d: %+v", len(sources), sources)
	}
	if sources[0].Name != "a.example" {
		t.Errorf("expected default name from host, got %q", sources[0].Name)
	}
	if sources[2].Category != "ads" {
		t.Errorf("expected category ads, got %q", sources[2].Category)
	}
}

func TestParseInvalidURL(t *testing.T) {
	if _, err := Parse("not-a-url"); err == nil {
		t.Fatal("expected error for non-absolute URL")
	}
}

func TestCanonicalizeStableUnderReorderingAndCase(t *testing.T) {
	a := []Source{
		{URL: "https://b.example/x", Name: "B", Category: "Ads"},
		{URL: "https://a.example/x/", Name: "b", Category: "ADS"},
	}
	b := []Source{
		{URL: "https://a.example/x", Name: "B", Category: "ads"},
		{URL: "https://b.example/x", Name: "b", Category: "Ads"},
	}

	if Canonicalize(a) != Canonicalize(b) {
		t.Fatalf("expected canonicalization to be stable under reordering/case/trailing-slash:\n%q\n%q", Canonicalize(a), Canonicalize(b))
	}
}

func TestUnparseRoundTrip(t *testing.T) {
	sources := []Source{
		{URL: "https://a.example/list.txt", Name: "a.example", Category: ""},
		{URL: "https://b.example/list.txt", Name: "B List", Category: "ads"},
	}
	raw := Unparse(sources)
	roundTripped, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(Unparse(sources)) returned error: %v", err)
	}
	if len(roundTripped) != len(sources) {
		t.Fatalf("expected %d sources after round trip, got %d", len(sources), len(roundTripped))
	}
	for i := range sources {
		if roundTripped[i] != sources[i] {
			t.Errorf("round trip mismatch at %d: got %+v want %+v", i, roundTripped[i], sources[i])
		}
	}
}
