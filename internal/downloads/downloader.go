package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lectern/lectern/internal/domain"
)

const (
	defaultTimeout = 5 * time.Minute
	copyChunkSize  = 32 * 1024
	userAgent      = "Lectern/1.0"
)

// HTTPDownloader implements domain.Downloader over plain HTTP, streaming
// the body into a file under its download directory.
type HTTPDownloader struct {
	client *http.Client
	dir    string
	logger *slog.Logger
}

// NewHTTPDownloader creates a downloader writing into dir.
func NewHTTPDownloader(dir string, logger *slog.Logger) *HTTPDownloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDownloader{
		client: &http.Client{Timeout: defaultTimeout},
		dir:    dir,
		logger: logger,
	}
}

// Download starts the transfer and returns immediately. Events fire from
// the transfer goroutine; the returned handle's Done channel closes when
// the transfer completes, fails or is cancelled.
func (d *HTTPDownloader) Download(ctx context.Context, uri string, creds *domain.Credentials, events domain.DownloadEvents) domain.DownloadHandle {
	ctx, cancel := context.WithCancel(ctx)
	t := &transfer{
		cancel:   cancel,
		done:     make(chan struct{}),
		expected: -1,
	}

	go d.run(ctx, t, uri, creds, events)
	return t
}

func (d *HTTPDownloader) run(ctx context.Context, t *transfer, uri string, creds *domain.Credentials, events domain.DownloadEvents) {
	defer close(t.done)

	err := d.fetch(ctx, t, uri, creds, events)
	switch {
	case err == nil:
	case t.wasCancelled() || errors.Is(err, context.Canceled):
		d.logger.Debug("download cancelled", "uri", uri)
		if events.OnCancelled != nil {
			events.OnCancelled()
		}
	default:
		d.logger.Error("download failed", "uri", uri, "error", err)
		if events.OnFailed != nil {
			events.OnFailed(err)
		}
	}
}

func (d *HTTPDownloader) fetch(ctx context.Context, t *transfer, uri string, creds *domain.Credentials, events domain.DownloadEvents) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	if creds != nil {
		req.SetBasicAuth(creds.Username, creds.Password)
	}

	d.logger.Debug("download start", "uri", uri)

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.FeedError{
			URI:     uri,
			Status:  resp.StatusCode,
			Problem: parseProblem(resp),
		}
	}

	t.setContentType(resp.Header.Get("Content-Type"))
	t.setExpected(resp.ContentLength)

	out, err := os.CreateTemp(d.dir, "lectern-*.part")
	if err != nil {
		return err
	}
	path := out.Name()

	if events.OnStarted != nil {
		events.OnStarted(resp.ContentLength)
	}

	if err := copyBody(t, resp.Body, out, resp.ContentLength, events); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}

	if err := out.Close(); err != nil {
		os.Remove(path)
		return err
	}

	d.logger.Debug("download complete", "uri", uri, "path", path)
	if events.OnCompleted != nil {
		events.OnCompleted(t.ContentType(), path)
	}
	return nil
}

func copyBody(t *transfer, body io.Reader, out io.Writer, expected int64, events domain.DownloadEvents) error {
	buf := make([]byte, copyChunkSize)
	var current int64

	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			current += int64(n)
			t.setCurrent(current)
			if events.OnProgress != nil {
				events.OnProgress(current, expected)
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func parseProblem(resp *http.Response) *domain.ProblemDetail {
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "problem+json") {
		return nil
	}
	var problem domain.ProblemDetail
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&problem); err != nil {
		return nil
	}
	return &problem
}

// transfer implements domain.DownloadHandle for one HTTP transfer.
type transfer struct {
	mu          sync.Mutex
	contentType string
	current     int64
	expected    int64
	cancelled   bool

	cancel context.CancelFunc
	done   chan struct{}
}

func (t *transfer) ContentType() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.contentType
}

func (t *transfer) Progress() (current, expected int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.expected
}

func (t *transfer) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
	t.cancel()
}

func (t *transfer) Done() <-chan struct{} { return t.done }

func (t *transfer) wasCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *transfer) setContentType(ct string) {
	t.mu.Lock()
	t.contentType = ct
	t.mu.Unlock()
}

func (t *transfer) setCurrent(n int64) {
	t.mu.Lock()
	t.current = n
	t.mu.Unlock()
}

func (t *transfer) setExpected(n int64) {
	t.mu.Lock()
	t.expected = n
	t.mu.Unlock()
}
