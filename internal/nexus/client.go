// Package nexus is a small client for the remote package API: download link
// resolution, package and file metadata, and plain downloads.
package nexus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	userAgent = "modsync/1.0"

	apiTimeout    = 30 * time.Second
	headerTimeout = 30 * time.Second
	dialTimeout   = 15 * time.Second
)

var (
	// ErrTransport covers network failures and non-2xx responses.
	ErrTransport = errors.New("transport error")
	// ErrDecode is returned when a response body is not the expected JSON.
	ErrDecode = errors.New("decode error")
)

// StatusError carries the status of a non-2xx response. It matches
// ErrTransport with errors.Is.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("request %s failed: %d %s; body: %s", e.URL, e.Status, http.StatusText(e.Status), e.Body)
	}
	return fmt.Sprintf("request %s failed: %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

func (e *StatusError) Is(target error) bool {
	return target == ErrTransport
}

// DownloadLink is one mirror returned by the link resolution endpoint.
type DownloadLink struct {
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	URI       string `json:"URI"`
}

// ModDetails is the subset of package details the resolver uses.
type ModDetails struct {
	ModID   uint64 `json:"mod_id"`
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Author  string `json:"author"`
	Version string `json:"version"`
}

// FileDetails describes one file of a package. Version may be absent.
type FileDetails struct {
	FileID   uint64  `json:"file_id"`
	Name     string  `json:"name"`
	FileName *string `json:"file_name"`
	Version  *string `json:"version"`
	SizeKB   int64   `json:"size_kb"`
	Category string  `json:"category_name"`
}

type filesResponse struct {
	Files []FileDetails `json:"files"`
}

// Client talks to the remote API. It is safe for concurrent use.
// JSON calls are bounded by an overall timeout; downloads only bound connect
// and response headers and rely on the caller's context for cancellation.
type Client struct {
	base           string
	apiKey         string
	httpClient     *http.Client
	downloadClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for JSON API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDownloadClient replaces the HTTP client used by Open.
func WithDownloadClient(hc *http.Client) Option {
	return func(c *Client) { c.downloadClient = hc }
}

func newDownloadClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   dialTimeout,
			ResponseHeaderTimeout: headerTimeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// NewClient returns a client for the API rooted at base
// (e.g. https://api.nexusmods.com/v1/games).
func NewClient(base, apiKey string, opts ...Option) *Client {
	c := &Client{
		base:           strings.TrimRight(base, "/"),
		apiKey:         apiKey,
		httpClient:     &http.Client{Timeout: apiTimeout},
		downloadClient: newDownloadClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasKey reports whether an API key is configured.
func (c *Client) HasKey() bool {
	return c.apiKey != ""
}

// DownloadLinks resolves the download mirrors for a token path such as
// stardewvalley/mods/1234/files/5678. The query is passed through verbatim.
func (c *Client) DownloadLinks(ctx context.Context, path, query string) ([]DownloadLink, error) {
	url := fmt.Sprintf("%s/%s/download_link.json", c.base, strings.Trim(path, "/"))
	if query != "" {
		url += "?" + query
	}
	var links []DownloadLink
	if err := c.getJSON(ctx, url, &links); err != nil {
		return nil, err
	}
	return links, nil
}

// Mod fetches package details.
func (c *Client) Mod(ctx context.Context, game string, id uint64) (*ModDetails, error) {
	url := fmt.Sprintf("%s/%s/mods/%d.json", c.base, game, id)
	var details ModDetails
	if err := c.getJSON(ctx, url, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// File fetches the details of one package file.
func (c *Client) File(ctx context.Context, game string, id, fileID uint64) (*FileDetails, error) {
	url := fmt.Sprintf("%s/%s/mods/%d/files/%d.json", c.base, game, id, fileID)
	var details FileDetails
	if err := c.getJSON(ctx, url, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// Files lists every file of a package.
func (c *Client) Files(ctx context.Context, game string, id uint64) ([]FileDetails, error) {
	url := fmt.Sprintf("%s/%s/mods/%d/files.json", c.base, game, id)
	var resp filesResponse
	if err := c.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// Open starts a plain GET of a download URI. The caller closes the body.
// Reading the body is not time limited; cancel ctx to abort.
func (c *Client) Open(ctx context.Context, uri string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", ErrTransport, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(uri, resp)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to build request: %v", ErrTransport, err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(url, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, url, err)
	}
	return nil
}

func statusError(url string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{URL: url, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
