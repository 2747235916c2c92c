package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNotListed indicates the filename is not in the manifest.
	ErrNotListed = errors.New("file not listed in manifest")
	// ErrNotRegular indicates a listed name that does not resolve to a regular file.
	ErrNotRegular = errors.New("not a regular file")
)

// FileItem represents a single downloadable file.
type FileItem struct {
	Name string // Listing token, forward slashes, relative to the root
	Size int64  // Size at scan time, -1 when the listing carried none
}

// Manifest is an immutable set of filenames eligible for download.
// It is safe for concurrent use.
type Manifest struct {
	root    string
	listing string
	items   []FileItem
	byName  map[string]int
}

// Parse builds a manifest from listing text, resolving files under root.
// Each non-blank line's first whitespace-delimited token is a filename; the
// rest of the line is free text. Names that would escape root are ignored.
func Parse(root, listing string) *Manifest {
	m := &Manifest{
		root:    root,
		listing: listing,
		byName:  make(map[string]int),
	}
	sc := bufio.NewScanner(strings.NewReader(listing))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if !validName(name) {
			continue
		}
		if _, dup := m.byName[name]; dup {
			continue
		}
		item := FileItem{Name: name, Size: -1}
		if len(fields) > 1 {
			if n, err := strconv.ParseInt(fields[1], 10, 64); err == nil && n >= 0 {
				item.Size = n
			}
		}
		m.byName[name] = len(m.items)
		m.items = append(m.items, item)
	}
	return m
}

// Load reads a listing file and resolves its names under root.
// An empty root means the listing file's directory.
func Load(root, listingPath string) (*Manifest, error) {
	data, err := os.ReadFile(listingPath)
	if err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	if root == "" {
		root = filepath.Dir(listingPath)
	}
	return Parse(root, string(data)), nil
}

// Scan walks the tree rooted at root and lists every regular file as
// "name size". Items are sorted by name.
// Unreadable entries are skipped and reported in a joined error alongside the manifest.
func Scan(root string) (*Manifest, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("path does not exist: %s", root)
		}
		return nil, fmt.Errorf("cannot access path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", root)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("cannot get absolute path: %w", err)
	}

	var items []FileItem
	var scanErrors []error

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			relPath, relErr := filepath.Rel(absRoot, path)
			if relErr != nil {
				relPath = path
			}
			scanErrors = append(scanErrors, fmt.Errorf("cannot read %s: %w", relPath, err))
			if d == nil || !d.IsDir() {
				return nil
			}
			return fs.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil {
			return fmt.Errorf("cannot compute relative path: %w", err)
		}
		name := filepath.ToSlash(relPath)
		if !validName(name) {
			// whitespace would split the name on the wire
			return nil
		}

		info, err := d.Info()
		if err != nil {
			scanErrors = append(scanErrors, fmt.Errorf("cannot get info for %s: %w", name, err))
			return nil
		}
		items = append(items, FileItem{Name: name, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking directory: %w", err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "%s %d\n", item.Name, item.Size)
	}
	m := Parse(absRoot, b.String())

	if len(scanErrors) > 0 {
		return m, fmt.Errorf("scan completed with %d error(s): %w", len(scanErrors), errors.Join(scanErrors...))
	}
	return m, nil
}

// Root returns the directory listed names resolve under.
func (m *Manifest) Root() string { return m.root }

// Listing returns the listing text sent to clients on connect.
func (m *Manifest) Listing() string { return m.listing }

// Items returns the listed files in listing order.
func (m *Manifest) Items() []FileItem {
	out := make([]FileItem, len(m.items))
	copy(out, m.items)
	return out
}

// Exists reports whether name is listed.
func (m *Manifest) Exists(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// Path returns the local path of a listed name.
func (m *Manifest) Path(name string) (string, error) {
	if !m.Exists(name) {
		return "", fmt.Errorf("%w: %s", ErrNotListed, name)
	}
	return filepath.Join(m.root, filepath.FromSlash(name)), nil
}

// SizeOf returns the current on-disk size of a listed file.
func (m *Manifest) SizeOf(name string) (int64, error) {
	p, err := m.Path(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s", ErrNotRegular, name)
	}
	return info.Size(), nil
}

// validName accepts relative, slash-separated names that stay under the root
// and contain no whitespace.
func validName(name string) bool {
	if name == "" || strings.ContainsAny(name, " \t\r\n\\") {
		return false
	}
	return filepath.IsLocal(filepath.FromSlash(name))
}
