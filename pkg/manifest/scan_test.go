package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestScan_SimpleTree(t *testing.T) {
	tmpDir := t.TempDir()

	// root/
	//   a.txt (10 bytes)
	//   b/
	//     c.txt (5 bytes)
	if err := os.WriteFile(filepath.Join(tmpDir, "a.txt"), []byte("0123456789"), 0644); err != nil {
		t.Fatalf("failed to create a.txt: %v", err)
	}
	bDir := filepath.Join(tmpDir, "b")
	if err := os.Mkdir(bDir, 0755); err != nil {
		t.Fatalf("failed to create b/: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bDir, "c.txt"), []byte("01234"), 0644); err != nil {
		t.Fatalf("failed to create b/c.txt: %v", err)
	}

	m, err := Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	want := "a.txt 10\nb/c.txt 5\n"
	if m.Listing() != want {
		t.Errorf("Listing() = %q, want %q", m.Listing(), want)
	}
	items := m.Items()
	if len(items) != 2 {
		t.Fatalf("Items length = %d, want 2", len(items))
	}
	if items[1].Name != "b/c.txt" || items[1].Size != 5 {
		t.Errorf("Items[1] = %+v", items[1])
	}
	if !m.Exists("b/c.txt") || m.Exists("b") {
		t.Errorf("Exists gave wrong answer for file/dir")
	}
	size, err := m.SizeOf("a.txt")
	if err != nil || size != 10 {
		t.Errorf("SizeOf(a.txt) = %d, %v", size, err)
	}
}

func TestScan_SkipsNamesWithWhitespace(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "has space.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "ok.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Scan(tmpDir)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if m.Exists("has") || m.Exists("has space.txt") {
		t.Fatalf("name with whitespace listed")
	}
	if !m.Exists("ok.txt") {
		t.Fatalf("ok.txt missing")
	}
}

func TestScan_Errors(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing root")
	}
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Scan(f); err == nil {
		t.Fatal("expected error for non-directory root")
	}
}

func TestParse_FirstTokenIsName(t *testing.T) {
	listing := "report.txt 2500 quarterly numbers\n\n  image.png\t88\nreport.txt again\n../etc/passwd 1\n/abs 1\n"
	m := Parse("/srv", listing)

	if m.Listing() != listing {
		t.Fatalf("Listing() must return the text verbatim")
	}
	for _, name := range []string{"report.txt", "image.png"} {
		if !m.Exists(name) {
			t.Errorf("expected %s to exist", name)
		}
	}
	for _, name := range []string{"2500", "../etc/passwd", "/abs", "quarterly"} {
		if m.Exists(name) {
			t.Errorf("did not expect %s to exist", name)
		}
	}
	items := m.Items()
	if len(items) != 2 {
		t.Fatalf("expected duplicates and unsafe names dropped, got %+v", items)
	}
	if items[0].Size != 2500 || items[1].Size != 88 {
		t.Fatalf("unexpected sizes: %+v", items)
	}
}

func TestSizeOf(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "report.txt"), make([]byte, 2500), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "dir"), 0755); err != nil {
		t.Fatal(err)
	}
	m := Parse(root, "report.txt\nvanished.bin\ndir\n")

	size, err := m.SizeOf("report.txt")
	if err != nil || size != 2500 {
		t.Fatalf("SizeOf(report.txt) = %d, %v", size, err)
	}
	if _, err := m.SizeOf("unknown"); !errors.Is(err, ErrNotListed) {
		t.Fatalf("expected ErrNotListed, got %v", err)
	}
	if _, err := m.SizeOf("vanished.bin"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected os.ErrNotExist, got %v", err)
	}
	if _, err := m.SizeOf("dir"); !errors.Is(err, ErrNotRegular) {
		t.Fatalf("expected ErrNotRegular, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "file_list.txt")
	if err := os.WriteFile(listPath, []byte("a.bin 20480\nb.bin 20480\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := Load("", listPath)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Root() != dir {
		t.Fatalf("Root() = %s, want %s", m.Root(), dir)
	}
	p, err := m.Path("a.bin")
	if err != nil || p != filepath.Join(dir, "a.bin") {
		t.Fatalf("Path(a.bin) = %s, %v", p, err)
	}
	if _, err := Load("", filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatal("expected error for missing listing")
	}
}

func TestConcurrentLookups(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		b.WriteString("f")
		b.WriteString(strings.Repeat("x", i))
		b.WriteString("\n")
	}
	m := Parse(t.TempDir(), b.String())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if !m.Exists("f" + strings.Repeat("x", i)) {
					t.Errorf("missing f%d", i)
					return
				}
			}
		}()
	}
	wg.Wait()
}
