package artifact

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestWriteCSVAndReadColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	rows := [][]string{{"cg1", FormatFloat(0.5)}, {"cg2", FormatFloat(1e-9)}}
	if err := WriteCSV(path, []string{"Feature", "Importance"}, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	got, err := ReadColumn(path, "Feature")
	if err != nil {
		t.Fatalf("ReadColumn: %v", err)
	}
	if !slices.Equal(got, []string{"cg1", "cg2"}) {
		t.Fatalf("unexpected column %v", got)
	}
	imp, _ := ReadColumn(path, "Importance")
	if imp[1] != "1e-09" {
		t.Fatalf("unexpected float rendering %q", imp[1])
	}
	if _, err := ReadColumn(path, "Missing"); err == nil {
		t.Fatal("expected error for missing column")
	}
}

func TestWriteAtomicLeavesNothingOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	boom := errors.New("boom")
	err := WriteAtomic(path, func(w io.Writer) error {
		w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, found %d entries", len(entries))
	}
	if Exists(path) {
		t.Fatal("target must not exist")
	}
}

func TestWriteJSONReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	if err := WriteJSON(path, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if err := WriteJSON(path, map[string]int{"a": 2}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{\n  \"a\": 2\n}\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestLayoutPaths(t *testing.T) {
	l := Layout{Workdir: "/w", Section: "fs", OutDir: "fsout"}
	c, j := l.Paths("abc", "anova_ftest", []string{"Tumor", "Normal"}, "")
	if c != "/w/fs/abc/fsout/anova_ftest_Tumor_Normal_results.csv" {
		t.Fatalf("unexpected csv path %s", c)
	}
	if j != "/w/fs/abc/fsout/anova_ftest_Tumor_Normal_results.json" {
		t.Fatalf("unexpected json path %s", j)
	}
	c, _ = l.Paths("abc", "ridge_l2", nil, "")
	if filepath.Base(c) != "ridge_l2_all_results.csv" {
		t.Fatalf("unexpected default stem %s", c)
	}
	c, _ = l.Paths("abc", "ridge_l2", []string{"a/b"}, "")
	if filepath.Base(c) != "ridge_l2_a-b_results.csv" {
		t.Fatalf("separator not sanitized: %s", c)
	}
	c, _ = l.Paths("abc", "ridge_l2", nil, "1f2e3d4c")
	if filepath.Base(c) != "ridge_l2_all_1f2e3d4c_results.csv" {
		t.Fatalf("variant not appended: %s", c)
	}
}

func TestFileSHA1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	os.WriteFile(path, []byte("abc"), 0o644)
	sum, err := FileSHA1(path)
	if err != nil {
		t.Fatal(err)
	}
	if sum != "a9993e364706816aba3e25717850c26c9cd0d89d" {
		t.Fatalf("unexpected sha1 %s", sum)
	}
}

func TestSweep(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	old := filepath.Join(root, "old")
	fresh := filepath.Join(root, "fresh")
	os.MkdirAll(filepath.Join(old, "fsout"), 0o755)
	os.MkdirAll(fresh, 0o755)
	past := now.Add(-72 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	removed, err := Sweep(root, 48*time.Hour, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if !slices.Equal(removed, []string{old}) {
		t.Fatalf("unexpected removals %v", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh dir must survive")
	}
	if got, err := Sweep(filepath.Join(root, "missing"), time.Hour, now); err != nil || got != nil {
		t.Fatalf("missing root: %v %v", got, err)
	}
}
