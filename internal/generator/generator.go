// Package generator writes the three compressed output variants for a
// sorted domain sequence (§6.3). spec.md names the generator as an
// external leaf; no collaborator is supplied in this exercise, so this
// package implements it directly, using klauspost/compress/gzip in
// place of stdlib gzip the way jordigilh-kubernaut's go.mod does for
// the same concern.
package generator

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Written describes one emitted file (§3 OutputFile, before the
// pipeline attaches domain_count/category naming).
type Written struct {
	Path  string
	Bytes int64
}

// WriteList emits the three compressed files for one category (or the
// combined "all_domains" list) into dir, named "<name>_hosts.txt.gz",
// "<name>_plain.txt.gz", "<name>_adblock.txt.gz" (§6.3). domains must
// already be sorted and deduplicated. Each file is written to a
// temporary path in the same directory and renamed into place, so a
// concurrent reader (the cross-tenant copy step) never observes a
// partially written file (§9 "recommend write-temp-then-rename per
// file").
func WriteList(dir, name string, domains []string) (map[string]Written, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("generator: create output dir: %w", err)
	}

	formats := map[string]func(w *bufio.Writer, domain string){
		"hosts":   func(w *bufio.Writer, domain string) { fmt.Fprintf(w, "0.0.0.0 %s\n", domain) },
		"plain":   func(w *bufio.Writer, domain string) { fmt.Fprintf(w, "%s\n", domain) },
		"adblock": func(w *bufio.Writer, domain string) { fmt.Fprintf(w, "||%s^\n", domain) },
	}

	out := make(map[string]Written, len(formats))
	for format, writeLine := range formats {
		finalPath := filepath.Join(dir, fmt.Sprintf("%s_%s.txt.gz", name, format))
		written, err := writeGzipFile(finalPath, domains, writeLine)
		if err != nil {
			return nil, fmt.Errorf("generator: write %s: %w", finalPath, err)
		}
		out[format] = written
	}

	return out, nil
}

func writeGzipFile(finalPath string, domains []string, writeLine func(w *bufio.Writer, domain string)) (Written, error) {
	dir := filepath.Dir(finalPath)
	tmp, err := os.CreateTemp(dir, ".tmp-*.gz")
	if err != nil {
		return Written{}, err
	}
	tmpPath := tmp.Name()

	cleanupTmp := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	gz := gzip.NewWriter(tmp)
	bw := bufio.NewWriter(gz)
	for _, domain := range domains {
		writeLine(bw, domain)
	}
	if err := bw.Flush(); err != nil {
		cleanupTmp()
		return Written{}, err
	}
	if err := gz.Close(); err != nil {
		cleanupTmp()
		return Written{}, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return Written{}, err
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return Written{}, err
	}
	size := info.Size()

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return Written{}, err
	}

	return Written{Path: finalPath, Bytes: size}, nil
}
