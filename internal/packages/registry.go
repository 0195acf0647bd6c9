package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/conneroisu/typster/internal/validation"
)

// DefaultRegistryURL is the public package registry.
const DefaultRegistryURL = "https://packages.typst.org"

// DefaultMaxArchiveBytes caps the size of a downloaded archive.
const DefaultMaxArchiveBytes = 128 * 1024 * 1024

const userAgent = "typster"

// errNotFound marks a 404 from the registry.
var errNotFound = errors.New("registry returned 404")

// NewRegistryHTTPClient creates an HTTP client with safe defaults. Request
// lifetimes are bounded by the caller's context rather than a client timeout.
func NewRegistryHTTPClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			if req.URL.Scheme != "https" && req.URL.Scheme != via[0].URL.Scheme {
				return errors.New("redirect downgrades scheme")
			}
			return nil
		},
	}
}

type registry struct {
	base     *url.URL
	client   *http.Client
	maxBytes int64
}

func newRegistry(rawURL string, client *http.Client, maxBytes int64) (*registry, error) {
	base, err := validation.ValidateRegistryURL(rawURL)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = NewRegistryHTTPClient()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxArchiveBytes
	}
	return &registry{base: base, client: client, maxBytes: maxBytes}, nil
}

// archiveURL is <base>/<namespace>/<name>-<version>.tar.gz.
func (r *registry) archiveURL(spec Spec) string {
	return r.resolve(spec.Namespace, spec.ArchiveName())
}

func (r *registry) indexURL(namespace string) string {
	return r.resolve(namespace, "index.json")
}

func (r *registry) resolve(parts ...string) string {
	u := *r.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.Join(parts, "/")
	u.RawQuery = ""
	return u.String()
}

// statusError is a non-2xx response other than 404.
type statusError struct {
	url    string
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.url, e.status)
}

func (e *statusError) temporary() bool {
	return e.status >= 500 || e.status == http.StatusTooManyRequests
}

// get fetches url into memory, failing when the body exceeds limit bytes.
func (r *registry) get(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{url: rawURL, status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response larger than %d bytes", limit)
	}
	return data, nil
}

// fetchArchive downloads spec's archive, retrying transient failures per
// policy. 404s are classified with the namespace index.
func (r *registry) fetchArchive(ctx context.Context, spec Spec, policy RetryPolicy) ([]byte, error) {
	archiveURL := r.archiveURL(spec)

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := policy.wait(ctx, attempt); err != nil {
				return nil, contextError(spec, err)
			}
		}

		data, err := r.get(ctx, archiveURL, r.maxBytes)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, errNotFound) {
			return nil, r.classifyMissing(ctx, spec)
		}
		if ctx.Err() != nil {
			return nil, contextError(spec, ctx.Err())
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && !se.temporary() {
			break
		}
	}
	return nil, &Error{Kind: KindNetwork, Spec: spec, Err: lastErr}
}

type indexEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// classifyMissing consults the namespace index to tell a missing package
// apart from a missing version. Index failures fall back to not-found.
func (r *registry) classifyMissing(ctx context.Context, spec Spec) error {
	notFound := &Error{Kind: KindNotFound, Spec: spec, Err: fmt.Errorf("%s not in registry", spec.ArchiveName())}

	data, err := r.get(ctx, r.indexURL(spec.Namespace), r.maxBytes)
	if err != nil {
		return notFound
	}
	var entries []indexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return notFound
	}

	var available []Version
	for _, entry := range entries {
		if entry.Name != spec.Name {
			continue
		}
		if v, err := ParseVersion(entry.Version); err == nil {
			available = append(available, v)
		}
	}
	if len(available) == 0 {
		return notFound
	}
	sort.Slice(available, func(i, j int) bool { return available[i].Less(available[j]) })
	return &Error{Kind: KindVersionNotFound, Spec: spec, Available: available}
}

func contextError(spec Spec, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Spec: spec, Err: err}
	}
	return &Error{Kind: KindCanceled, Spec: spec, Err: err}
}

// sinceMillis is used for log fields.
func sinceMillis(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
