package normalize

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/datahub-cli/internal/catalog"
)

// zipToCSV extracts the archive to a scratch directory and returns the
// contents of the largest CSV entry. Archives whose primary data file is
// a CSV dominate this domain, so size is the selection heuristic; exact
// size ties keep the first entry seen. Non-CSV entries are ignored.
func zipToCSV(payload []byte, scratchDir string) ([]byte, error) {
	dir, err := os.MkdirTemp(scratchDir, "unzip-*")
	if err != nil {
		return nil, eris.Wrap(err, "zip: create scratch dir")
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			zap.L().Warn("zip: scratch cleanup failed", zap.String("dir", dir), zap.Error(err))
		}
	}()

	r, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, &FormatError{Type: catalog.SourceZIP, Reason: "invalid ZIP archive"}
	}

	var best string
	var bestSize int64 = -1
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		path, err := extractEntry(f, dir)
		if err != nil {
			return nil, err
		}
		if size := int64(f.UncompressedSize64); size > bestSize {
			best = path
			bestSize = size
		}
	}

	if best == "" {
		return nil, &FormatError{Type: catalog.SourceZIP, Reason: "no CSV entry in archive"}
	}

	data, err := os.ReadFile(best)
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read extracted %s", best)
	}
	return data, nil
}

// extractEntry writes a single archive entry to the destination directory,
// rejecting paths that escape it.
func extractEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, rc); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}

	return destPath, nil
}
