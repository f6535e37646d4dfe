package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// MapLibreVersion is the map library release the fixtures are rendered with.
const MapLibreVersion = "5.17.0"

// CDNFile is a library file cached locally and served under /cdn/<Name>.
type CDNFile struct {
	Name string
	URL  string
}

// DefaultCDNFiles returns the map library JS and CSS for MapLibreVersion.
func DefaultCDNFiles() []CDNFile {
	base := "https://unpkg.com/maplibre-gl@" + MapLibreVersion + "/dist/"
	return []CDNFile{
		{Name: "maplibre-gl.js", URL: base + "maplibre-gl.js"},
		{Name: "maplibre-gl.css", URL: base + "maplibre-gl.css"},
	}
}

// EnsureCDNCache downloads each file missing from dir, once and without
// retry. Files already present are left alone. A failed download is
// returned as an error; the caller treats it as fatal.
func EnsureCDNCache(ctx context.Context, client *http.Client, dir string, files []CDNFile, logger *slog.Logger) error {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("server: cdn cache dir: %w", err)
	}
	for _, f := range files {
		dst := filepath.Join(dir, f.Name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		logger.Info("downloading map library file", "name", f.Name, "url", f.URL)
		n, err := download(ctx, client, f.URL, dst)
		if err != nil {
			return fmt.Errorf("server: fetch %s: %w", f.URL, err)
		}
		logger.Info("cached map library file", "name", f.Name, "kb", n/1024)
	}
	return nil
}

func download(ctx context.Context, client *http.Client, url, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	return n, nil
}
