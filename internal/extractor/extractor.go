// Package extractor is the line-oriented blocklist parser (§4.4): it
// classifies every line of a fetched source into hosts/plain/adblock
// form or skip, normalizes the domain, and hands back a flat domain
// sequence. Line processing partitions across cores the way the
// teacher partitions CPU-bound batches with errgroup.SetLimit
// (internal/modules/learning/steps/file_signature_build.go).
package extractor

import (
	"bufio"
	"bytes"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
)

const domainPattern = `[A-Za-z0-9][-A-Za-z0-9]*(\.[A-Za-z0-9][-A-Za-z0-9]*)+`

var (
	commentLineRe = regexp.MustCompile(`^[#!]`)
	cosmeticRe    = regexp.MustCompile(`##|#@#|#\?#|#\$#|#\+js\(`)
	hostsLineRe   = regexp.MustCompile(`^(?:0\.0\.0\.0|127\.0\.0\.1)\s+(` + domainPattern + `)`)
	adblockLineRe = regexp.MustCompile(`^\|\|(` + domainPattern + `)\^?(\$.+)?$`)
	plainLineRe   = regexp.MustCompile(`^(` + domainPattern + `)$`)
)

// suppressedAdblockModifiers are "$..." modifiers that describe
// browser-level or request-context behavior a DNS resolver cannot act
// on; a source line carrying any of these is skipped rather than
// emitted (§4.4 point 3).
var suppressedAdblockModifiers = []string{
	"third-party", "badfilter", "removeparam", "redirect", "csp", "replace", "cookie",
}

// Format tags which syntax a domain was recognized from.
type Format string

const (
	FormatHosts   Format = "hosts"
	FormatPlain   Format = "plain"
	FormatAdblock Format = "adblock"
)

// Stats is the optional per-format breakdown named in §4.4.
type Stats struct {
	Hosts   int
	Plain   int
	Adblock int
}

func (s *Stats) add(other Stats) {
	s.Hosts += other.Hosts
	s.Plain += other.Plain
	s.Adblock += other.Adblock
}

// Result is the extractor's output for one source body: a flat domain
// sequence (not deduplicated — dedup happens at the pipeline level) and
// the optional format histogram.
type Result struct {
	Domains []string
	Stats   Stats
}

// Extract parses raw line-at-a-time and returns the flat domain
// sequence plus format counts (§4.4). Processing is embarrassingly
// parallel: lines are split into contiguous chunks across GOMAXPROCS
// goroutines and each chunk's domains are concatenated in chunk order, so
// the output keeps the input line order.
func Extract(raw []byte) Result {
	lines := splitLines(raw)
	if len(lines) == 0 {
		return Result{}
	}

	partitions := runtime.GOMAXPROCS(0)
	if partitions > len(lines) {
		partitions = len(lines)
	}
	if partitions < 1 {
		partitions = 1
	}

	chunkDomains := make([][]string, partitions)
	chunkStats := make([]Stats, partitions)

	var g errgroup.Group
	chunkSize := (len(lines) + partitions - 1) / partitions
	for p := 0; p < partitions; p++ {
		p := p
		start := p * chunkSize
		end := start + chunkSize
		if start >= len(lines) {
			continue
		}
		if end > len(lines) {
			end = len(lines)
		}
		g.Go(func() error {
			domains, stats := extractLines(lines[start:end])
			chunkDomains[p] = domains
			chunkStats[p] = stats
			return nil
		})
	}
	_ = g.Wait()

	var total Stats
	var out []string
	for p := 0; p < partitions; p++ {
		out = append(out, chunkDomains[p]...)
		total.add(chunkStats[p])
	}

	return Result{Domains: out, Stats: total}
}

func splitLines(raw []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func extractLines(lines []string) ([]string, Stats) {
	var domains []string
	var stats Stats

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || commentLineRe.MatchString(trimmed) {
			continue
		}
		if cosmeticRe.MatchString(trimmed) {
			continue
		}

		if m := hostsLineRe.FindStringSubmatch(trimmed); m != nil {
			domains = append(domains, strings.ToLower(m[1]))
			stats.Hosts++
			continue
		}

		if m := adblockLineRe.FindStringSubmatch(trimmed); m != nil {
			modifiers := strings.ToLower(m[2])
			if modifiers != "" && hasSuppressedModifier(modifiers) {
				continue
			}
			domains = append(domains, strings.ToLower(m[1]))
			stats.Adblock++
			continue
		}

		if m := plainLineRe.FindStringSubmatch(trimmed); m != nil {
			domains = append(domains, strings.ToLower(m[1]))
			stats.Plain++
			continue
		}
	}

	return domains, stats
}

func hasSuppressedModifier(modifiers string) bool {
	for _, mod := range suppressedAdblockModifiers {
		if strings.Contains(modifiers, mod) {
			return true
		}
	}
	return false
}

// Sort performs the final lexicographic ordering of a deduplicated
// domain set (§4.4 "Sort"). It is a single sequential sort.Strings call
// on the calling goroutine; the sort itself is not parallel, and the
// pipeline sorts its category lists one after another.
func Sort(domains []string) {
	sort.Strings(domains)
}
