// Package models locates pretrained model directories. A model reference can
// be a directory holding the artifact files, a zip or tar.gz archive, or the
// name of a published model to download.
package models

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// Artifact file names expected inside a model directory.
const (
	ConfigFile     = "args.json"
	VocabFile      = "vocab.json"
	CheckpointFile = "best_model.bin"
)

// ErrUnsupportedFormat is returned when a model reference is neither a
// directory, a known archive format, nor a published model name.
var ErrUnsupportedFormat = errors.New("unsupported model format")

// registry maps published model names to download URLs. The base can be
// overridden with SCEMBED_MODEL_BASE_URL for mirrors.
var registry = map[string]string{
	"scgpt-human": "scgpt-human.tar.gz",
	"scgpt-ce":    "scgpt-ce.tar.gz",
}

const defaultBaseURL = "https://models.scembed.dev/pretrained"

// Resolve turns a model reference into a directory containing the artifact
// files. Archives are unpacked under workDir; downloads land there too.
func Resolve(ref, workDir string) (string, error) {
	if info, err := os.Stat(ref); err == nil && info.IsDir() {
		return findModelDir(ref)
	}

	switch {
	case strings.HasSuffix(ref, ".zip"):
		return extractZip(ref, workDir)
	case strings.HasSuffix(ref, ".tar.gz"), strings.HasSuffix(ref, ".tgz"):
		return extractTarGz(ref, workDir)
	}

	if name, ok := registry[ref]; ok {
		archive, err := download(name, workDir)
		if err != nil {
			return "", err
		}
		return Resolve(archive, workDir)
	}

	if _, err := os.Stat(ref); err == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ref)
	}
	return "", fmt.Errorf("model %q: not a directory, archive, or known model name", ref)
}

// findModelDir returns dir if it holds the artifacts directly, or descends
// into a single top-level subdirectory, the layout archives unpack to.
func findModelDir(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return findModelDir(filepath.Join(dir, entries[0].Name()))
	}
	return "", fmt.Errorf("no %s under %s", ConfigFile, dir)
}

func download(name, workDir string) (string, error) {
	base := os.Getenv("SCEMBED_MODEL_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	url := base + "/" + name
	dest := filepath.Join(workDir, name)
	log.Info("downloading pretrained model", "url", url, "dest", dest)

	resp, err := http.Get(url)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: %s", url, resp.Status)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}
	return dest, nil
}

func extractZip(archive, workDir string) (string, error) {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", archive, err)
	}
	defer r.Close()

	dest := extractDir(archive, workDir)
	for _, f := range r.File {
		path, err := safeJoin(dest, f.Name)
		if err != nil {
			return "", err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return "", err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		if err := writeFile(path, rc); err != nil {
			rc.Close()
			return "", err
		}
		rc.Close()
	}
	return findModelDir(dest)
}

func extractTarGz(archive, workDir string) (string, error) {
	f, err := os.Open(archive)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", archive, err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("decompressing %s: %w", archive, err)
	}
	defer zr.Close()

	dest := extractDir(archive, workDir)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", archive, err)
		}
		path, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return "", err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return "", err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return "", err
			}
			if err := writeFile(path, tr); err != nil {
				return "", err
			}
		}
	}
	return findModelDir(dest)
}

// extractDir builds the unpack directory from the archive's base name.
func extractDir(archive, workDir string) string {
	base := filepath.Base(archive)
	for _, suffix := range []string{".tar.gz", ".tgz", ".zip"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return filepath.Join(workDir, base)
}

// safeJoin joins an archive entry name under dest, rejecting path traversal.
func safeJoin(dest, name string) (string, error) {
	path := filepath.Join(dest, filepath.Clean("/"+name))
	if !strings.HasPrefix(path, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction dir", name)
	}
	return path, nil
}

func writeFile(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}
