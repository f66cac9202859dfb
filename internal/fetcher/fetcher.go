// Package fetcher resolves source URIs (local paths, http(s), ftp, zip
// archives) to local files and streams tabular rows from CSV and XLSX.
package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Downloader copies a remote resource to a local file. Returns bytes written.
type Downloader interface {
	DownloadToFile(ctx context.Context, rawURL string, dest string) (int64, error)
}

// Opener turns a source URI into a local path, downloading and extracting as needed.
type Opener struct {
	tempDir string
	http    Downloader
	ftp     Downloader
}

// NewOpener creates an Opener that stages downloads under tempDir.
func NewOpener(tempDir string, httpDL, ftpDL Downloader) *Opener {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Opener{tempDir: tempDir, http: httpDL, ftp: ftpDL}
}

// Fetch returns a local path for uri. Local paths (plain or file://) are used
// as-is; http(s) and ftp URIs are downloaded into the temp dir. A .zip result
// is extracted and the extraction directory is returned instead.
func (o *Opener) Fetch(ctx context.Context, uri string) (string, error) {
	log := zap.L().With(zap.String("component", "fetcher"), zap.String("uri", uri))

	local, err := o.localize(ctx, uri)
	if err != nil {
		return "", err
	}

	if !strings.EqualFold(filepath.Ext(local), ".zip") {
		return local, nil
	}

	dest := filepath.Join(o.tempDir, stagingName(uri)+"-unzipped")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create extract dir")
	}
	files, err := ExtractZIP(local, dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: extract %s", uri)
	}
	log.Debug("extracted archive", zap.Int("files", len(files)), zap.String("dir", dest))
	return dest, nil
}

func (o *Opener) localize(ctx context.Context, uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Plain path (a one-letter scheme is a Windows drive).
		if _, statErr := os.Stat(uri); statErr != nil {
			return "", eris.Wrapf(statErr, "fetcher: stat %s", uri)
		}
		return uri, nil
	}

	var dl Downloader
	switch strings.ToLower(u.Scheme) {
	case "file":
		if _, statErr := os.Stat(u.Path); statErr != nil {
			return "", eris.Wrapf(statErr, "fetcher: stat %s", u.Path)
		}
		return u.Path, nil
	case "http", "https":
		dl = o.http
	case "ftp":
		dl = o.ftp
	default:
		return "", eris.Errorf("fetcher: unsupported scheme %q in %s", u.Scheme, uri)
	}
	if dl == nil {
		return "", eris.Errorf("fetcher: no downloader configured for %s", u.Scheme)
	}

	if err := os.MkdirAll(o.tempDir, 0o755); err != nil {
		return "", eris.Wrap(err, "fetcher: create temp dir")
	}
	dest := filepath.Join(o.tempDir, stagingName(uri)+"-"+path.Base(u.Path))

	n, err := dl.DownloadToFile(ctx, uri, dest)
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: download %s", uri)
	}
	zap.L().Info("downloaded source",
		zap.String("component", "fetcher"),
		zap.String("uri", uri),
		zap.Int64("bytes", n),
	)
	return dest, nil
}

// stagingName gives each source URI a stable, collision-free file prefix.
func stagingName(uri string) string {
	sum := sha256.Sum256([]byte(uri))
	return fmt.Sprintf("%x", sum[:6])
}

// FindByExt returns the single file under dir with extension ext
// (case-insensitive). Zero or several matches is an error.
func FindByExt(dir, ext string) (string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ext) {
			found = append(found, p)
		}
		return nil
	})
	if err != nil {
		return "", eris.Wrapf(err, "fetcher: walk %s", dir)
	}
	switch len(found) {
	case 0:
		return "", eris.Errorf("fetcher: no %s file in %s", ext, dir)
	case 1:
		return found[0], nil
	default:
		return "", eris.Errorf("fetcher: %d %s files in %s, expected one", len(found), ext, dir)
	}
}
