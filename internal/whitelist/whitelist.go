// Package whitelist compiles the whitelist language (§6.5) into the
// four match structures of §4.5 and filters domain sets against them.
// Parallel partitioning of the filter step uses the same errgroup.Group
// fan-out over GOMAXPROCS chunks as the extractor (no SetLimit; one
// goroutine per chunk).
package whitelist

import (
	"regexp"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

// patternKind tags which of the four syntaxes a raw pattern line used.
type patternKind int

const (
	kindExact patternKind = iota
	kindSubdomain
	kindWildcard
	kindRegex
)

type subdomainPattern struct {
	domain string // the bare "d" form
	suffix string // ".d", checked with HasSuffix
}

// Spec is a compiled whitelist: the four structures of §4.5, plus the
// original pattern strings in compile order (needed by Filter's
// per-pattern statistics and by the processor's fingerprint canonical
// form, §4.7 Step 1).
type Spec struct {
	exact      map[string]struct{}
	subdomains []subdomainPattern
	combined   *regexp.Regexp // wildcard + regex patterns, alternated together

	// patterns is the original line text in compile order, used for
	// Filter's post-hoc per-pattern statistics and for the canonical
	// fingerprint rendering.
	patterns []string

	// Dropped holds patterns whose regex failed to compile, with the
	// underlying error, so the processor can log exactly which lines
	// were skipped and why (§7 Whitelist-compile-error).
	Dropped []DroppedPattern
}

// DroppedPattern is a whitelist line that failed to compile.
type DroppedPattern struct {
	Pattern string
	Err     error
}

// Patterns returns the compiled pattern strings in the order produced
// by compilation (§4.7 Step 1 canonical fingerprint rendering).
func (s *Spec) Patterns() []string {
	return s.patterns
}

// Compile parses the whitelist language (§6.5, §4.5) into a Spec. A `#`
// anywhere on a line strips to end-of-line as a comment; blank lines are
// ignored. Regex compilation failures drop the offending pattern with a
// warning recorded on Spec.Dropped rather than aborting the whole
// whitelist (§7 Whitelist-compile-error).
func Compile(raw string) *Spec {
	spec := &Spec{exact: make(map[string]struct{})}

	var regexParts []string
	for _, line := range strings.Split(raw, "\n") {
		pattern := stripComment(line)
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		kind, body := classify(pattern)
		switch kind {
		case kindExact:
			spec.exact[strings.ToLower(body)] = struct{}{}
			spec.patterns = append(spec.patterns, pattern)
		case kindSubdomain:
			d := strings.ToLower(body)
			spec.subdomains = append(spec.subdomains, subdomainPattern{domain: d, suffix: "." + d})
			spec.patterns = append(spec.patterns, pattern)
		case kindWildcard:
			re, err := wildcardToRegexp(body)
			if err != nil {
				spec.Dropped = append(spec.Dropped, DroppedPattern{Pattern: pattern, Err: err})
				continue
			}
			regexParts = append(regexParts, re)
			spec.patterns = append(spec.patterns, pattern)
		case kindRegex:
			if _, err := regexp.Compile(body); err != nil {
				spec.Dropped = append(spec.Dropped, DroppedPattern{Pattern: pattern, Err: err})
				continue
			}
			regexParts = append(regexParts, "(?:"+body+")")
			spec.patterns = append(spec.patterns, pattern)
		}
	}

	if len(regexParts) > 0 {
		combined, err := regexp.Compile(strings.Join(regexParts, "|"))
		if err != nil {
			// Individual parts were already validated; a combine-time
			// failure here would indicate a pathological alternation. Fall
			// back to matching nothing rather than aborting the job.
			spec.Dropped = append(spec.Dropped, DroppedPattern{Pattern: "(combined wildcard/regex set)", Err: err})
		} else {
			spec.combined = combined
		}
	}

	return spec
}

func stripComment(line string) string {
	if idx := strings.Index(line, "#"); idx >= 0 {
		return line[:idx]
	}
	return line
}

func classify(pattern string) (patternKind, string) {
	switch {
	case strings.HasPrefix(pattern, "@@"):
		return kindSubdomain, strings.TrimPrefix(pattern, "@@")
	case strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/") && len(pattern) >= 2:
		return kindRegex, pattern[1 : len(pattern)-1]
	case strings.Contains(pattern, "*"):
		return kindWildcard, pattern
	default:
		return kindExact, pattern
	}
}

// wildcardToRegexp translates a wildcard pattern into an anchored regex
// source: escape every regex metacharacter, then turn the now-escaped
// `\*` back into `.*` (§4.5 table).
func wildcardToRegexp(pattern string) (string, error) {
	escaped := regexp.QuoteMeta(pattern)
	translated := strings.ReplaceAll(escaped, `\*`, `.*`)
	source := "^" + translated + "$"
	if _, err := regexp.Compile(source); err != nil {
		return "", err
	}
	return source, nil
}

// IsWhitelisted tests domain against the compiled spec in the order
// specified by §4.5: exact set, subdomain list, combined regex set,
// short-circuiting on first match.
func (s *Spec) IsWhitelisted(domain string) bool {
	d := strings.ToLower(domain)

	if _, ok := s.exact[d]; ok {
		return true
	}

	for _, sub := range s.subdomains {
		if d == sub.domain || strings.HasSuffix(d, sub.suffix) {
			return true
		}
	}

	if s.combined != nil && s.combined.MatchString(d) {
		return true
	}

	return false
}

// FilterResult is the output of Filter (§4.5 "Filter").
type FilterResult struct {
	Kept         []string
	RemovedCount int
	TopPatterns  []PatternCount
}

// PatternCount is one whitelist pattern and how many removed domains it
// matched, used for the top-20 post-hoc statistics.
type PatternCount struct {
	Pattern string
	Count   int
}

// Filter partitions domains into kept/removed against spec, running the
// partitioning in parallel (§4.5 "Filter"). Pattern statistics are
// computed post-hoc by re-matching the removed set against each
// original pattern individually, summing hits, sorting descending by
// count, and truncating to the top 20.
func Filter(spec *Spec, domains []string) FilterResult {
	if len(domains) == 0 {
		return FilterResult{}
	}

	partitions := runtime.GOMAXPROCS(0)
	if partitions > len(domains) {
		partitions = len(domains)
	}
	if partitions < 1 {
		partitions = 1
	}

	keptChunks := make([][]string, partitions)
	removedChunks := make([][]string, partitions)

	var g errgroup.Group
	chunkSize := (len(domains) + partitions - 1) / partitions
	for p := 0; p < partitions; p++ {
		p := p
		start := p * chunkSize
		end := start + chunkSize
		if start >= len(domains) {
			continue
		}
		if end > len(domains) {
			end = len(domains)
		}
		g.Go(func() error {
			var kept, removed []string
			for _, d := range domains[start:end] {
				if spec.IsWhitelisted(d) {
					removed = append(removed, d)
				} else {
					kept = append(kept, d)
				}
			}
			keptChunks[p] = kept
			removedChunks[p] = removed
			return nil
		})
	}
	_ = g.Wait()

	var kept, removed []string
	for p := 0; p < partitions; p++ {
		kept = append(kept, keptChunks[p]...)
		removed = append(removed, removedChunks[p]...)
	}

	return FilterResult{
		Kept:         kept,
		RemovedCount: len(removed),
		TopPatterns:  patternStatistics(spec, removed),
	}
}

func patternStatistics(spec *Spec, removed []string) []PatternCount {
	if len(removed) == 0 {
		return nil
	}

	counts := make([]PatternCount, 0, len(spec.patterns))
	for _, pattern := range spec.patterns {
		single := Compile(pattern)
		hits := 0
		for _, d := range removed {
			if single.IsWhitelisted(d) {
				hits++
			}
		}
		if hits > 0 {
			counts = append(counts, PatternCount{Pattern: pattern, Count: hits})
		}
	}

	sort.Slice(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if len(counts) > 20 {
		counts = counts[:20]
	}
	return counts
}
