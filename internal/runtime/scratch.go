package runtime

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var markerPattern = regexp.MustCompile(`^//\s*handler:(\S+)\s*$`)

// handlerFileCandidates are tried in order; the first that exists in
// the extracted bundle wins.
var handlerFileCandidates = []string{".mjs", ".js", ".cjs"}

// newScratchDir creates a unique scratch directory under root encoding
// {name}-{version}-{random}.
func newScratchDir(root, name string, version int) (string, error) {
	dir := filepath.Join(root, fmt.Sprintf("%s-%d-%s", name, version, uuid.NewString()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, nil
}

// extractBundle unpacks a ZIP archive into dir. Entries are confined to
// dir — a path that would escape it is rejected.
func extractBundle(bundle []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	if err != nil {
		return fmt.Errorf("read code bundle as zip: %w", err)
	}

	for _, f := range zr.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) && target != filepath.Clean(dir) {
			return fmt.Errorf("zip entry %q escapes scratch directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %q: %w", f.Name, err)
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			rc.Close()
			return fmt.Errorf("write zip entry %q: %w", f.Name, err)
		}
		_, copyErr := io.Copy(out, rc)
		rc.Close()
		closeErr := out.Close()
		if copyErr != nil {
			return fmt.Errorf("write zip entry %q: %w", f.Name, copyErr)
		}
		if closeErr != nil {
			return closeErr
		}
	}
	return nil
}

// locateHandlerFile tries {module}.mjs, {module}.js, {module}.cjs in
// order inside dir and returns the path of the first that exists.
func locateHandlerFile(dir, module string) (string, bool) {
	for _, ext := range handlerFileCandidates {
		p := filepath.Join(dir, module+ext)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// loadHandler reads path fresh (no package-level cache — every
// invocation observes the bundle currently on disk), extracts its
// `// handler:<key>` marker, and resolves key against the compile-time
// handler directory. The returned body is everything in the file after
// the marker line.
func loadHandler(path string) (HandlerFunc, []byte, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, false, fmt.Errorf("read handler file: %w", err)
	}

	lines := bytes.SplitN(raw, []byte("\n"), 2)
	if len(lines) == 0 {
		return nil, nil, false, nil
	}
	m := markerPattern.FindSubmatch(bytes.TrimRight(lines[0], "\r"))
	if m == nil {
		return nil, nil, false, nil
	}
	key := string(m[1])

	var body []byte
	if len(lines) == 2 {
		body = lines[1]
	}

	fn, ok := directory[key]
	if !ok {
		return nil, body, false, nil
	}
	return fn, body, true, nil
}
