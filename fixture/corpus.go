package fixture

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// CorpusOptions configures BuildCorpus.
type CorpusOptions struct {
	// Source is the upstream render tests tree (…/render/tests).
	Source string
	// AssetsSource is the upstream shared asset tree. Optional.
	AssetsSource string
	// Dest receives one directory per fixture plus manifest.json.
	Dest string
	// AssetsDest is where the asset tree is linked. Default: <Dest>/assets.
	AssetsDest string

	Logger *slog.Logger
}

func (o *CorpusOptions) defaults() {
	if o.AssetsDest == "" {
		o.AssetsDest = filepath.Join(o.Dest, "assets")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// BuildCorpus copies every fixture found under Source (any directory holding
// a style.json) into Dest, links the asset tree and writes the manifest.
// Fixtures with an unparseable style are logged and left out.
func BuildCorpus(opts CorpusOptions) ([]Entry, error) {
	opts.defaults()
	log := opts.Logger

	if _, err := os.Stat(opts.Source); err != nil {
		return nil, fmt.Errorf("fixture: corpus source: %w", err)
	}
	if err := os.MkdirAll(opts.Dest, 0o755); err != nil {
		return nil, fmt.Errorf("fixture: corpus dest: %w", err)
	}
	if opts.AssetsSource != "" {
		if err := linkAssets(opts.AssetsSource, opts.AssetsDest, log); err != nil {
			return nil, err
		}
	}

	var ids []string
	err := filepath.WalkDir(opts.Source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != StyleFile {
			return nil
		}
		rel, err := filepath.Rel(opts.Source, filepath.Dir(p))
		if err != nil || rel == "." {
			return nil
		}
		ids = append(ids, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fixture: scan corpus: %w", err)
	}
	sort.Strings(ids)
	log.Info("fixture: corpus scanned", "styles", len(ids), "source", opts.Source)

	src := NewRepository(opts.Source)
	entries := make([]Entry, 0, len(ids))
	totalExpected := 0
	for _, id := range ids {
		entry, err := copyFixture(src, opts.Dest, id)
		if err != nil {
			log.Warn("fixture: skipping fixture", "id", id, "error", err)
			continue
		}
		totalExpected += entry.ExpectedCount
		entries = append(entries, entry)
	}

	if err := WriteManifest(filepath.Join(opts.Dest, ManifestFile), entries); err != nil {
		return nil, err
	}
	log.Info("fixture: corpus written",
		"fixtures", len(entries), "expected_images", totalExpected, "dest", opts.Dest)
	return entries, nil
}

func copyFixture(src *Repository, destRoot, id string) (Entry, error) {
	srcDir := src.Dir(id)
	raw, err := os.ReadFile(filepath.Join(srcDir, StyleFile))
	if err != nil {
		return Entry{}, err
	}
	style, err := DecodeStyle(raw)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid JSON: %w", err)
	}
	meta, err := Resolve(id, style)
	if err != nil {
		return Entry{}, err
	}

	dstDir := filepath.Join(destRoot, filepath.FromSlash(id))
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return Entry{}, err
	}
	if err := os.WriteFile(filepath.Join(dstDir, StyleFile), raw, 0o644); err != nil {
		return Entry{}, err
	}

	items, err := os.ReadDir(srcDir)
	if err != nil {
		return Entry{}, err
	}
	entry := Entry{Metadata: meta}
	for _, it := range items {
		s, d := filepath.Join(srcDir, it.Name()), filepath.Join(dstDir, it.Name())
		switch {
		case it.IsDir():
			// Nested fixtures are copied on their own walk step.
			if _, err := os.Stat(filepath.Join(s, StyleFile)); err == nil {
				continue
			}
			if err := copyTree(s, d); err != nil {
				return Entry{}, err
			}
		case isExpectedImage(it.Name()):
			if err := copyFile(s, d); err != nil {
				return Entry{}, err
			}
			entry.ExpectedCount++
		}
	}
	return entry, nil
}

// linkAssets symlinks the asset tree, falling back to a copy where symlinks
// are unavailable. An existing destination is left alone.
func linkAssets(src, dst string, log *slog.Logger) error {
	if _, err := os.Lstat(dst); err == nil {
		return nil
	}
	abs, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("fixture: assets path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("fixture: assets dest: %w", err)
	}
	if err := os.Symlink(abs, dst); err == nil {
		log.Info("fixture: linked assets", "target", abs, "link", dst)
		return nil
	}
	log.Info("fixture: symlink failed, copying assets", "src", abs)
	if err := copyTree(abs, dst); err != nil {
		return fmt.Errorf("fixture: copy assets: %w", err)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return errors.Join(err, os.Remove(dst))
	}
	return nil
}
