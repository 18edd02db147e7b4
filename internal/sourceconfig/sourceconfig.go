// Package sourceconfig parses the blocklist config language (§6.4) into
// a structured source list. It mirrors the shape of the original Rust
// implementation's ParsedSource/parse_sources pair (SPEC_FULL
// "Supplemented Features" #1) rather than leaving the language parsed
// ad hoc inline in the processor.
package sourceconfig

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Source is one line of a tenant's blocklists configuration, fully
// resolved (display name defaulted, category optional).
type Source struct {
	URL      string
	Name     string
	Category string // empty string means "no category" (§4.7 Step 5 "None bucket")
}

// Parse reads the blocklist config language (§6.4): line-oriented UTF-8,
// `#`-prefixed or blank lines ignored, remaining lines split on `|` into
// up to three fields (url[|name[|category]]). Duplicate URLs beyond the
// first are dropped, case-sensitively as written (the URL string itself,
// not a canonicalized form).
func Parse(raw string) ([]Source, error) {
	seen := make(map[string]bool)
	var out []Source

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.SplitN(trimmed, "|", 3)
		rawURL := strings.TrimSpace(fields[0])

		parsed, err := url.Parse(rawURL)
		if err != nil || !parsed.IsAbs() {
			return nil, fmt.Errorf("sourceconfig: invalid source URL %q", rawURL)
		}

		if seen[rawURL] {
			continue
		}
		seen[rawURL] = true

		name := ""
		if len(fields) > 1 {
			name = strings.TrimSpace(fields[1])
		}
		if name == "" {
			name = parsed.Host
		}

		category := ""
		if len(fields) > 2 {
			category = strings.TrimSpace(fields[2])
		}

		out = append(out, Source{URL: rawURL, Name: name, Category: category})
	}

	return out, nil
}

// Unparse renders sources back into the blocklist config language, one
// line per source. Used by the round-trip property in §8 ("parse(unparse(sources))
// = sources, up to comment loss").
func Unparse(sources []Source) string {
	lines := make([]string, 0, len(sources))
	for _, s := range sources {
		line := s.URL
		if s.Category != "" {
			line = fmt.Sprintf("%s|%s|%s", s.URL, s.Name, s.Category)
		} else if s.Name != "" {
			line = fmt.Sprintf("%s|%s", s.URL, s.Name)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Canonicalize renders sources into the stable form used by the
// cross-tenant config fingerprint (§4.7 Step 1): sorted ascending by
// lowercased URL without trailing slash, each line lower(url without trailing slash)|lower(name)|lower(category
// or ""), joined by "\n". Stable under source-line reordering, comment
// changes, trailing slash on the URL, and name/category case (§8
// round-trip law).
func Canonicalize(sources []Source) string {
	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	canonicalURL := func(s Source) string { return strings.ToLower(strings.TrimSuffix(s.URL, "/")) }
	sort.Slice(sorted, func(i, j int) bool { return canonicalURL(sorted[i]) < canonicalURL(sorted[j]) })

	lines := make([]string, 0, len(sorted))
	for _, s := range sorted {
		url := canonicalURL(s)
		name := strings.ToLower(s.Name)
		category := strings.ToLower(s.Category)
		lines = append(lines, fmt.Sprintf("%s|%s|%s", url, name, category))
	}
	return strings.Join(lines, "\n")
}
