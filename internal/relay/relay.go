// Package relay implements the download-then-forward pipeline: fetch a
// user-supplied URL into a transient per-job directory, hand the file to the
// caller for delivery, and reclaim the directory no matter how the job ends.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidLink rejects URLs before any network I/O happens.
var ErrInvalidLink = errors.New("link must start with http:// or https://")

// FetchError reports a non-2xx response from the source.
type FetchError struct {
	StatusCode int
	Snippet    string
}

func (e *FetchError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("download status %d", e.StatusCode)
	}
	return fmt.Sprintf("download status %d: %s", e.StatusCode, e.Snippet)
}

// ProgressFunc receives the number of bytes written so far. Implementations
// must not block for long and must tolerate being called from the copy loop.
type ProgressFunc func(written int64)

// Download is a completed transient copy. The caller delivers Path and then
// calls Discard; Discard is idempotent and safe after partial failures.
type Download struct {
	Name string
	Path string
	Size int64

	dir  string
	once sync.Once
}

func (d *Download) Discard() {
	d.once.Do(func() {
		_ = os.RemoveAll(d.dir)
	})
}

type Pipeline struct {
	client *http.Client
	dir    string

	// progressStep is the byte interval between progress callbacks.
	progressStep int64
}

const defaultProgressStep = 5 << 20 // 5 MiB

// New builds a pipeline writing transient files under dir. The timeout bounds
// the whole fetch; it comes from configuration, never from this package.
func New(dir string, timeout time.Duration) *Pipeline {
	return &Pipeline{
		client:       &http.Client{Timeout: timeout},
		dir:          dir,
		progressStep: defaultProgressStep,
	}
}

// Fetch streams sourceURL into a fresh job directory and returns the transient
// copy. On any error the job directory is already removed. The uuid directory
// keeps concurrent jobs with equal filenames apart.
func (p *Pipeline) Fetch(ctx context.Context, sourceURL string, progress ProgressFunc) (*Download, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidLink
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ErrInvalidLink
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{StatusCode: resp.StatusCode, Snippet: strings.TrimSpace(string(b))}
	}

	name := resolveFileName(resp.Header.Get("Content-Disposition"), u)

	jobDir := filepath.Join(p.dir, uuid.NewString())
	if err := os.MkdirAll(jobDir, 0o750); err != nil {
		return nil, fmt.Errorf("create transient dir: %w", err)
	}
	d := &Download{Name: name, Path: filepath.Join(jobDir, name), dir: jobDir}

	out, err := os.Create(d.Path)
	if err != nil {
		d.Discard()
		return nil, fmt.Errorf("create transient file: %w", err)
	}

	var w io.Writer = out
	if progress != nil {
		w = &progressWriter{w: out, step: p.progressStep, fn: progress}
	}
	written, err := io.Copy(w, resp.Body)
	cerr := out.Close()
	if err != nil {
		d.Discard()
		return nil, fmt.Errorf("save %s: %w", name, err)
	}
	if cerr != nil {
		d.Discard()
		return nil, fmt.Errorf("save %s: %w", name, cerr)
	}
	d.Size = written
	return d, nil
}

// resolveFileName picks the output name: Content-Disposition filename first,
// then the last URL path segment, then a generated placeholder.
func resolveFileName(disposition string, u *url.URL) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if fn := sanitizeName(params["filename"]); fn != "" {
				return fn
			}
		}
	}
	if fn := sanitizeName(path.Base(u.Path)); fn != "" {
		return fn
	}
	return "file_" + uuid.NewString()[:8]
}

// sanitizeName strips any path components and rejects unusable names.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}

type progressWriter struct {
	w    io.Writer
	step int64
	fn   ProgressFunc

	written int64
	next    int64
}

func (pw *progressWriter) Write(b []byte) (int, error) {
	n, err := pw.w.Write(b)
	pw.written += int64(n)
	if pw.next == 0 {
		pw.next = pw.step
	}
	for pw.written >= pw.next {
		pw.fn(pw.written)
		pw.next += pw.step
	}
	return n, err
}
