package fixture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a fixture id has no style.json on disk.
	ErrNotFound = errors.New("fixture: not found")
	// ErrInvalidID is returned for ids that would escape the corpus root.
	ErrInvalidID = errors.New("fixture: invalid id")
	// ErrManifestMissing is returned when manifest.json does not exist.
	ErrManifestMissing = errors.New("fixture: manifest missing")
)

// StyleFile is the name of the style document inside a fixture directory.
const StyleFile = "style.json"

// Repository reads fixtures laid out as <Root>/<id>/style.json with
// expected*.png baselines beside the style.
type Repository struct {
	Root string
}

// NewRepository returns a repository rooted at dir.
func NewRepository(dir string) *Repository {
	return &Repository{Root: dir}
}

// CleanID validates a slash-separated fixture id and returns it normalised.
func CleanID(id string) (string, error) {
	id = strings.Trim(id, "/")
	if id == "" || strings.ContainsRune(id, 0) || strings.Contains(id, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, seg := range strings.Split(id, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return path.Clean(id), nil
}

// Dir returns the directory holding the fixture.
func (r *Repository) Dir(id string) string {
	return filepath.Join(r.Root, filepath.FromSlash(id))
}

// ReadStyle loads and parses the fixture's style document. Numbers are kept
// as json.Number so integer-valued fields survive re-serialisation intact.
func (r *Repository) ReadStyle(id string) (map[string]any, error) {
	id, err := CleanID(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(r.Dir(id), StyleFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fixture: read style %s: %w", id, err)
	}
	style, err := DecodeStyle(data)
	if err != nil {
		return nil, fmt.Errorf("fixture: parse style %s: %w", id, err)
	}
	return style, nil
}

// DecodeStyle parses a style document preserving number literals.
func DecodeStyle(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var style map[string]any
	if err := dec.Decode(&style); err != nil {
		return nil, err
	}
	if style == nil {
		return nil, errors.New("style is not a JSON object")
	}
	return style, nil
}

// Expected lists the fixture's baseline images (expected*.png), sorted.
// A missing fixture directory yields an empty list.
func (r *Repository) Expected(id string) ([]string, error) {
	id, err := CleanID(id)
	if err != nil {
		return nil, err
	}
	dir := r.Dir(id)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fixture: list %s: %w", id, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && isExpectedImage(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func isExpectedImage(name string) bool {
	return strings.HasPrefix(name, "expected") && strings.HasSuffix(name, ".png")
}
