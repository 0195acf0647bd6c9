package packages

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/pelletier/go-toml/v2"

	"github.com/conneroisu/typster/internal/validation"
)

// ManifestName is the package manifest file at the root of every package.
const ManifestName = "typst.toml"

// Manifest is the subset of typst.toml the cache reads.
type Manifest struct {
	Package struct {
		Name        string   `toml:"name"`
		Version     string   `toml:"version"`
		Entrypoint  string   `toml:"entrypoint"`
		Authors     []string `toml:"authors"`
		License     string   `toml:"license"`
		Description string   `toml:"description"`
		Compiler    string   `toml:"compiler"`
	} `toml:"package"`
}

// ReadManifest parses dir/typst.toml.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestName, err)
	}
	return &m, nil
}

// Verify checks the manifest against spec and that the entrypoint exists
// inside dir.
func (m *Manifest) Verify(spec Spec, dir string) error {
	if m.Package.Name != spec.Name {
		return fmt.Errorf("manifest names package %q, expected %q", m.Package.Name, spec.Name)
	}
	if m.Package.Version != spec.Version.String() {
		return fmt.Errorf("manifest has version %q, expected %q", m.Package.Version, spec.Version)
	}
	if m.Package.Entrypoint == "" {
		return fmt.Errorf("manifest has no entrypoint")
	}
	entry, err := validation.WithinRoot(dir, m.Package.Entrypoint)
	if err != nil {
		return fmt.Errorf("entrypoint: %w", err)
	}
	if _, err := os.Stat(entry); err != nil {
		return fmt.Errorf("entrypoint %s missing", m.Package.Entrypoint)
	}
	return nil
}

// extractArchive unpacks a gzip-compressed tarball into dest, which must
// exist. Members that would land outside dest are rejected; links are
// skipped. The total extracted size is capped at limit bytes.
func extractArchive(data []byte, dest string, limit int64) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var written int64
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		if err := validation.ValidateArchiveEntry(hdr.Name); err != nil {
			return err
		}
		clean := path.Clean(hdr.Name)
		if clean == "." {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(clean))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			n, err := writeMember(target, tr, limit-written)
			if err != nil {
				return err
			}
			written += n
		default:
			// Links, devices and pax headers carry no package content.
		}
	}
	return nil
}

func writeMember(target string, r io.Reader, remaining int64) (int64, error) {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, io.LimitReader(r, remaining+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("extract %s: %w", filepath.Base(target), err)
	}
	if n > remaining {
		return n, fmt.Errorf("archive expands beyond %d bytes", remaining)
	}
	return n, nil
}
