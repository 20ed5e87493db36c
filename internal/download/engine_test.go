package download

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackwell-systems/modsync/internal/mods"
	"github.com/blackwell-systems/modsync/internal/nexus"
)

const token = "nxm://stardewvalley/mods/1234/files/5678?key=abc&expires=1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves a fixed link list and body.
type fakeSource struct {
	links   []nexus.DownloadLink
	linkErr error
	body    []byte
	length  int64
	openErr error
}

func (f *fakeSource) DownloadLinks(ctx context.Context, path, query string) ([]nexus.DownloadLink, error) {
	return f.links, f.linkErr
}

func (f *fakeSource) Open(ctx context.Context, uri string) (*http.Response, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		ContentLength: f.length,
		Body:          io.NopCloser(bytes.NewReader(f.body)),
	}, nil
}

func cdnLink() []nexus.DownloadLink {
	return []nexus.DownloadLink{{ShortName: "CDN", URI: "https://cf-files.nexus-cdn.com/stardewvalley/1234/Cool Mod-1234-1-0.zip?md5=x"}}
}

// collect reads reports until a complete one arrives or the timeout fires.
func collect(t *testing.T, ch <-chan mods.Progress) []mods.Progress {
	t.Helper()
	var got []mods.Progress
	timeout := time.After(5 * time.Second)
	for {
		select {
		case p := <-ch:
			got = append(got, p)
			if p.Downloaded == p.Total {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out waiting for final report, got %v", got)
		}
	}
}

func TestRun_StreamsInChunks(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 1000)
	src := &fakeSource{links: cdnLink(), body: body, length: 1000}
	fs := afero.NewMemMapFs()
	e := New(src, fs, "/dl", discardLogger(), WithChunkSize(500))

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background(), token) }()

	reports := collect(t, e.Progress())
	require.NoError(t, <-errCh)

	var last int64 = -1
	for _, p := range reports {
		assert.Equal(t, "Cool Mod-1234-1-0.zip", p.FileName)
		assert.Equal(t, int64(1000), p.Total)
		assert.Equal(t, uint64(1234), p.PackageID)
		assert.Equal(t, uint64(5678), p.FileID)
		assert.Greater(t, p.Downloaded, last)
		last = p.Downloaded
	}
	assert.Equal(t, int64(1000), last)

	data, err := afero.ReadFile(fs, filepath.Join("/dl", "Cool Mod-1234-1-0.zip"))
	require.NoError(t, err)
	assert.Equal(t, body, data)
}

func TestRun_AgainstHTTPServer(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), 1000)
	var ts *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/stardewvalley/mods/1234/files/5678/download_link.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("key"))
		_, _ = io.WriteString(w, `[{"name":"Main","short_name":"M","URI":"`+ts.URL+`/a/b/c/d/File.zip?temp=1"}]`)
	})
	mux.HandleFunc("/a/b/c/d/File.zip", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	})
	ts = httptest.NewServer(mux)
	defer ts.Close()

	fs := afero.NewMemMapFs()
	e := New(nexus.NewClient(ts.URL, "k"), fs, "/dl", discardLogger())

	var done error
	finished := make(chan struct{})
	e.Submit(context.Background(), token, func(err error) {
		done = err
		close(finished)
	})

	reports := collect(t, e.Progress())
	<-finished
	e.Wait()

	require.NoError(t, done)
	assert.Equal(t, "File.zip", reports[len(reports)-1].FileName)

	data, err := afero.ReadFile(fs, "/dl/File.zip")
	require.NoError(t, err)
	assert.Len(t, data, 1000)
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name    string
		src     *fakeSource
		token   string
		wantErr error
	}{
		{name: "malformed token", src: &fakeSource{}, token: "bogus", wantErr: nil},
		{name: "no links", src: &fakeSource{}, token: token, wantErr: ErrNoDownloadLinks},
		{name: "link error", src: &fakeSource{linkErr: nexus.ErrTransport}, token: token, wantErr: nexus.ErrTransport},
		{name: "open error", src: &fakeSource{links: cdnLink(), openErr: nexus.ErrTransport}, token: token, wantErr: nexus.ErrTransport},
		{name: "zero length", src: &fakeSource{links: cdnLink(), length: 0}, token: token, wantErr: ErrUnusableSource},
		{name: "unknown length", src: &fakeSource{links: cdnLink(), length: -1}, token: token, wantErr: ErrUnusableSource},
		{
			name:    "bad uri",
			src:     &fakeSource{links: []nexus.DownloadLink{{URI: "https://example.com/x"}}, length: 10, body: []byte("0123456789")},
			token:   token,
			wantErr: ErrBadDownloadURI,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			e := New(tt.src, fs, "/dl", discardLogger())

			err := e.Run(context.Background(), tt.token)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "error = %v, want %v", err, tt.wantErr)
			}

			files, _ := afero.ReadDir(fs, "/dl")
			assert.Empty(t, files, "no file may be created on failure before streaming")
		})
	}
}

func TestRun_Truncated(t *testing.T) {
	src := &fakeSource{links: cdnLink(), body: bytes.Repeat([]byte("z"), 500), length: 1000}
	fs := afero.NewMemMapFs()
	e := New(src, fs, "/dl", discardLogger(), WithChunkSize(200))

	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(context.Background(), token) }()

	var last mods.Progress
	for p := range e.Progress() {
		last = p
		if p.Downloaded == 500 {
			break
		}
	}
	err := <-errCh
	assert.True(t, errors.Is(err, ErrTruncated), "error = %v", err)
	assert.Equal(t, int64(500), last.Downloaded)

	data, _ := afero.ReadFile(fs, "/dl/Cool Mod-1234-1-0.zip")
	assert.Len(t, data, 500, "partial file is left in place")
}

func TestRun_FinalSendHonoursCancel(t *testing.T) {
	src := &fakeSource{links: cdnLink(), body: []byte("abc"), length: 3}
	e := New(src, afero.NewMemMapFs(), "/dl", discardLogger())

	// Occupy the single slot so the final send blocks.
	e.progress <- mods.Progress{FileName: "other"}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx, token) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		uri     string
		want    string
		wantErr bool
	}{
		{uri: "https://cf-files.nexus-cdn.com/stardewvalley/1234/File.zip?md5=abc", want: "File.zip"},
		{uri: "https://host-nexus-cdn.example/a/b/c/d/FileName.zip?temp=1", want: "FileName.zip"},
		{uri: "https://premium-files.example.com/1303/1234/5678/File 2.zip?x=1", want: "File 2.zip"},
		{uri: "https://files.example.com/a/b/c/d/Name.7z", want: "Name.7z"},
		{uri: "https://files.example.com/a/b/Name.zip", wantErr: true},
		{uri: "https://cf-files.nexus-cdn.com/a/Name.zip", wantErr: true},
		{uri: "https://cf-files.nexus-cdn.com/a/b/", wantErr: true},
		{uri: "nonsense", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := FileName(tt.uri)
			if tt.wantErr {
				if !errors.Is(err, ErrBadDownloadURI) {
					t.Fatalf("FileName(%q) error = %v, want ErrBadDownloadURI", tt.uri, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FileName(%q) error = %v", tt.uri, err)
			}
			if got != tt.want {
				t.Errorf("FileName(%q) = %q, want %q", tt.uri, got, tt.want)
			}
		})
	}
}
