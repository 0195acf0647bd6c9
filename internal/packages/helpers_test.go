package packages

import (
	"archive/tar"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

// makeArchive builds a .tar.gz holding files (slash-separated names).
func makeArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func manifestFor(spec Spec) string {
	return fmt.Sprintf("[package]\nname = %q\nversion = %q\nentrypoint = \"lib.typ\"\ndescription = \"test package\"\n",
		spec.Name, spec.Version)
}

func packageArchive(t *testing.T, spec Spec) []byte {
	return makeArchive(t, map[string]string{
		"typst.toml": manifestFor(spec),
		"lib.typ":    "#let greet(name) = [Hello, #name!]\n",
	})
}

// fakeRegistry serves archives and namespace indexes and counts requests
// per archive path.
type fakeRegistry struct {
	t        *testing.T
	server   *httptest.Server
	mu       sync.Mutex
	archives map[string][]byte
	indexes  map[string]string
	hits     map[string]*atomic.Int64
	// before runs ahead of every archive response; it may block or
	// write a response itself and return false.
	before func(w http.ResponseWriter, r *http.Request) bool
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	f := &fakeRegistry{
		t:        t,
		archives: make(map[string][]byte),
		indexes:  make(map[string]string),
		hits:     make(map[string]*atomic.Int64),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRegistry) add(spec Spec, archive []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := "/" + spec.Namespace + "/" + spec.ArchiveName()
	f.archives[key] = archive
	if f.hits[key] == nil {
		f.hits[key] = &atomic.Int64{}
	}
}

func (f *fakeRegistry) addPackage(spec Spec) {
	f.add(spec, packageArchive(f.t, spec))
}

func (f *fakeRegistry) downloads(spec Spec) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.hits["/"+spec.Namespace+"/"+spec.ArchiveName()]; c != nil {
		return c.Load()
	}
	return 0
}

func (f *fakeRegistry) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/index.json") {
		f.mu.Lock()
		index, ok := f.indexes[r.URL.Path]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(index))
		return
	}

	f.mu.Lock()
	archive, ok := f.archives[r.URL.Path]
	counter := f.hits[r.URL.Path]
	before := f.before
	f.mu.Unlock()

	if counter != nil {
		counter.Add(1)
	}
	if before != nil && !before(w, r) {
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(archive)
}

func noRetry() RetryPolicy {
	return RetryPolicy{Mode: BackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 0}
}

func newTestCache(t *testing.T, reg *fakeRegistry) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), Options{
		RegistryURL: reg.server.URL,
		Timeout:     5 * time.Second,
		Retry:       noRetry(),
	})
	require.NoError(t, err)
	return c
}

func mustSpec(t *testing.T, s string) Spec {
	t.Helper()
	spec, err := ParseSpec(s)
	require.NoError(t, err)
	return spec
}

// tempDirs lists leftover download directories below dir.
func tempDirs(t *testing.T, dir string) []string {
	t.Helper()
	var found []string
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() && strings.Contains(d.Name(), ".download-") {
			found = append(found, p)
		}
		return nil
	})
	return found
}
