// Package download runs download jobs: it resolves a token into a download
// URI, streams the archive into the download directory and reports progress
// on a single bounded channel.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/blackwell-systems/modsync/internal/mods"
	"github.com/blackwell-systems/modsync/internal/nexus"
	"github.com/blackwell-systems/modsync/internal/nxm"
)

// DefaultChunkSize is the read size used while streaming a download.
const DefaultChunkSize = 32 * 1024

var (
	// ErrNoDownloadLinks is returned when the API resolves a token to no mirrors.
	ErrNoDownloadLinks = errors.New("no download links")
	// ErrUnusableSource is returned when the response has no usable length.
	ErrUnusableSource = errors.New("download source has no content length")
	// ErrBadDownloadURI is returned when no file name can be derived from a URI.
	ErrBadDownloadURI = errors.New("cannot derive file name from download uri")
	// ErrTruncated is returned when the body ends before Content-Length bytes.
	ErrTruncated = errors.New("download ended early")
)

// Source resolves tokens and opens download URIs. *nexus.Client satisfies it.
type Source interface {
	DownloadLinks(ctx context.Context, path, query string) ([]nexus.DownloadLink, error)
	Open(ctx context.Context, uri string) (*http.Response, error)
}

// Engine runs download jobs concurrently, one goroutine per job.
type Engine struct {
	src       Source
	fs        afero.Fs
	dir       string
	chunkSize int
	log       *slog.Logger

	progress chan mods.Progress
	wg       sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithChunkSize sets the streaming read size.
func WithChunkSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// New creates an engine writing archives into dir.
func New(src Source, fs afero.Fs, dir string, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		src:       src,
		fs:        fs,
		dir:       dir,
		chunkSize: DefaultChunkSize,
		log:       log.With(slog.String("component", "download")),
		progress:  make(chan mods.Progress, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Progress returns the channel progress reports are delivered on. Intermediate
// reports may be dropped when the consumer falls behind; the final report of
// every job is always delivered unless the job's context is cancelled.
func (e *Engine) Progress() <-chan mods.Progress {
	return e.progress
}

// Submit starts a job in the background. done, when non-nil, is called with
// the job's result.
func (e *Engine) Submit(ctx context.Context, raw string, done func(error)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.Run(ctx, raw)
		if done != nil {
			done(err)
		}
	}()
}

// Wait blocks until every submitted job has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Run executes one job synchronously.
func (e *Engine) Run(ctx context.Context, raw string) error {
	log := e.log.With(slog.String("job", uuid.NewString()))

	tok, err := nxm.Parse(raw)
	if err != nil {
		log.Error("download failed", slog.String("stage", "parse"), slog.Any("error", err))
		return err
	}
	log = log.With(slog.String("token", tok.Path))

	links, err := e.src.DownloadLinks(ctx, tok.Path, tok.Query)
	if err != nil {
		log.Error("download failed", slog.String("stage", "resolve"), slog.Any("error", err))
		return fmt.Errorf("failed to resolve download links: %w", err)
	}
	if len(links) == 0 {
		log.Error("download failed", slog.String("stage", "resolve"), slog.Any("error", ErrNoDownloadLinks))
		return ErrNoDownloadLinks
	}
	link := links[0]

	resp, err := e.src.Open(ctx, link.URI)
	if err != nil {
		log.Error("download failed", slog.String("stage", "open"), slog.Any("error", err))
		return fmt.Errorf("failed to open download: %w", err)
	}
	defer resp.Body.Close()

	total := resp.ContentLength
	if total <= 0 {
		log.Error("download failed", slog.String("stage", "open"), slog.Any("error", ErrUnusableSource))
		return fmt.Errorf("%w: %s", ErrUnusableSource, link.URI)
	}

	name, err := FileName(link.URI)
	if err != nil {
		log.Error("download failed", slog.String("stage", "name"), slog.Any("error", err))
		return err
	}
	log = log.With(slog.String("file", name))

	if err := e.fs.MkdirAll(e.dir, 0o755); err != nil {
		log.Error("download failed", slog.String("stage", "create"), slog.Any("error", err))
		return fmt.Errorf("failed to create download directory: %w", err)
	}
	path := filepath.Join(e.dir, name)
	out, err := e.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		log.Error("download failed", slog.String("stage", "create"), slog.Any("error", err))
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer out.Close()

	log.Info("download started", slog.String("mirror", link.ShortName), slog.Int64("size", total))

	report := mods.Progress{
		FileName:  name,
		Total:     total,
		PackageID: tok.PackageID,
		FileID:    tok.FileID,
	}
	e.trySend(report)

	buf := make([]byte, e.chunkSize)
	for {
		n, rerr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				log.Error("download failed", slog.String("stage", "write"), slog.Any("error", err))
				return fmt.Errorf("failed to write %s: %w", path, err)
			}
			report.Downloaded += int64(n)
			// The final report is sent blocking below.
			if report.Downloaded < total {
				e.trySend(report)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			log.Error("download failed", slog.String("stage", "stream"), slog.Int64("downloaded", report.Downloaded), slog.Any("error", rerr))
			return fmt.Errorf("failed to read body: %w", rerr)
		}
	}

	select {
	case e.progress <- report:
	case <-ctx.Done():
		return ctx.Err()
	}

	if report.Downloaded != total {
		log.Warn("download truncated", slog.Int64("downloaded", report.Downloaded), slog.Int64("size", total))
		return fmt.Errorf("%w: %d of %d bytes", ErrTruncated, report.Downloaded, total)
	}

	log.Info("download finished", slog.Int64("size", total))
	return nil
}

func (e *Engine) trySend(p mods.Progress) {
	select {
	case e.progress <- p:
	default:
	}
}

// FileName derives the archive file name from a download URI. CDN hosts
// (third segment contains "nexus-cdn") carry the name from the sixth
// slash-separated segment on, other hosts from the seventh; the name is the
// final path segment with any query stripped.
func FileName(uri string) (string, error) {
	base, _, _ := strings.Cut(uri, "?")
	parts := strings.Split(base, "/")
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: %s", ErrBadDownloadURI, uri)
	}

	idx := 6
	if strings.Contains(parts[2], "nexus-cdn") {
		idx = 5
	}
	if len(parts) <= idx {
		return "", fmt.Errorf("%w: %s", ErrBadDownloadURI, uri)
	}

	name := parts[len(parts)-1]
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %s", ErrBadDownloadURI, uri)
	}
	return name, nil
}
