package generator

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func readGzipLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()

	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return lines
}

func TestWriteListProducesThreeFormatsWithCorrectLineShapes(t *testing.T) {
	dir := t.TempDir()
	domains := []string{"a.com", "b.com"}

	written, err := WriteList(dir, "mylist", domains)
	if err != nil {
		t.Fatalf("WriteList: %v", err)
	}
	if len(written) != 3 {
		t.Fatalf("expected 3 formats, got %d", len(written))
	}

	hosts := readGzipLines(t, written["hosts"].Path)
	want := []string{"0.0.0.0 a.com", "0.0.0.0 b.com"}
	if len(hosts) != len(want) || hosts[0] != want[0] || hosts[1] != want[1] {
		t.Errorf("hosts lines = %v, want %v", hosts, want)
	}

	plain := readGzipLines(t, written["plain"].Path)
	if len(plain) != 2 || plain[0] != "a.com" || plain[1] != "b.com" {
		t.Errorf("plain lines = %v", plain)
	}

	adblock := readGzipLines(t, written["adblock"].Path)
	if len(adblock) != 2 || adblock[0] != "||a.com^" || adblock[1] != "||b.com^" {
		t.Errorf("adblock lines = %v", adblock)
	}

	for format, w := range written {
		wantPath := filepath.Join(dir, "mylist_"+format+".txt.gz")
		if w.Path != wantPath {
			t.Errorf("format %s path = %q, want %q", format, w.Path, wantPath)
		}
		if w.Bytes <= 0 {
			t.Errorf("format %s Bytes = %d, want > 0", format, w.Bytes)
		}
	}
}

func TestWriteListLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	if _, err := WriteList(dir, "list", []string{"x.com"}); err != nil {
		t.Fatalf("WriteList: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if len(e.Name()) >= 5 && e.Name()[:5] == ".tmp-" {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 final files, got %d: %v", len(entries), entries)
	}
}

func TestWriteListEmptyDomainsStillProducesValidGzip(t *testing.T) {
	dir := t.TempDir()
	written, err := WriteList(dir, "empty", nil)
	if err != nil {
		t.Fatalf("WriteList: %v", err)
	}
	lines := readGzipLines(t, written["plain"].Path)
	if len(lines) != 0 {
		t.Errorf("expected no lines, got %v", lines)
	}
}
