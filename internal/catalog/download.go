package catalog

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// download fetches url into dest through a temporary file in the same
// directory, so an interrupted transfer never leaves a partial weights file.
func download(client *http.Client, url, dest string) error {
	resp, err := client.Get(url) //nolint:noctx // one-shot CLI download without cancellation
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: %s", ErrDownload, url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %s: %w", ErrDownload, url, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}
