package corpus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sethgrid/pester"
	"go.uber.org/zap"
)

// HTTPDoer is satisfied by *http.Client and *pester.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader fetches the corpus archive into the data directory.
type Downloader struct {
	Client HTTPDoer
	Logger *zap.Logger
}

// NewDownloader returns a downloader with a retrying client.
func NewDownloader(logger *zap.Logger) *Downloader {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = 5
	client.RetryOnHTTP429 = true
	client.Timeout = 2 * time.Hour
	return &Downloader{Client: client, Logger: logger}
}

// EnsureCorpus checks if the archive exists at dest. If not, or if force is
// set, it downloads url to dest. The file only appears at dest once the
// download has completed. It reports whether a download happened.
func (d *Downloader) EnsureCorpus(ctx context.Context, url, dest string, force bool) (bool, error) {
	if !force {
		if _, err := os.Stat(dest); err == nil {
			return false, nil
		} else if !os.IsNotExist(err) {
			return false, err
		}
	}

	d.Logger.Info("downloading corpus", zap.String("url", url), zap.String("dest", dest))
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", "schenql-builder")

	resp, err := d.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("download failed: %s", resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return false, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return false, fmt.Errorf("failed to write to file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return false, err
	}

	d.Logger.Info("corpus downloaded",
		zap.String("dest", dest),
		zap.Int64("bytes", n),
		zap.Duration("elapsed", time.Since(start)))
	return true, nil
}
