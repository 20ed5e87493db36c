// Package nxm parses the nxm:// download tokens handed over by the browser
// and the modsync:// control tokens used to forward commands to a running
// instance.
package nxm

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme is the fixed prefix of a download token.
const Scheme = "nxm://"

// ErrMalformedToken is returned for tokens that cannot be split into a path.
var ErrMalformedToken = errors.New("malformed token")

// Token is a parsed download token such as
// nxm://stardewvalley/mods/1234/files/5678?key=abc&expires=1.
type Token struct {
	Raw       string
	Path      string // stardewvalley/mods/1234/files/5678
	Game      string // stardewvalley
	Resource  string // mods/1234/files/5678
	Query     string // key=abc&expires=1, passed through verbatim
	PackageID uint64
	FileID    uint64
}

// Parse splits a download token. Missing or non-numeric package and file IDs
// parse as 0 and do not fail the token.
func Parse(raw string) (Token, error) {
	if len(raw) < len(Scheme) || !strings.EqualFold(raw[:len(Scheme)], Scheme) {
		return Token{}, fmt.Errorf("%w: %q", ErrMalformedToken, raw)
	}

	rest := raw[len(Scheme):]
	path, query, _ := strings.Cut(rest, "?")
	path = strings.Trim(path, "/")
	if path == "" {
		return Token{}, fmt.Errorf("%w: empty path in %q", ErrMalformedToken, raw)
	}

	game, resource, _ := strings.Cut(path, "/")

	return Token{
		Raw:       raw,
		Path:      path,
		Game:      game,
		Resource:  resource,
		Query:     query,
		PackageID: segmentID(raw, 4),
		FileID:    segmentID(raw, 6),
	}, nil
}

// IsDownload reports whether the string looks like a download token.
func IsDownload(raw string) bool {
	return len(raw) >= len(Scheme) && strings.EqualFold(raw[:len(Scheme)], Scheme)
}

// segmentID reads the numeric value of the n-th "/" separated segment of the
// raw token, ignoring any query suffix.
func segmentID(raw string, n int) uint64 {
	parts := strings.Split(raw, "/")
	if n >= len(parts) {
		return 0
	}
	seg, _, _ := strings.Cut(parts[n], "?")
	id, err := strconv.ParseUint(seg, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// ControlScheme prefixes tokens that carry collection commands.
const ControlScheme = "modsync://"

// Verb is a control command.
type Verb string

const (
	VerbActivate   Verb = "activate"
	VerbDeactivate Verb = "deactivate"
	VerbDelete     Verb = "delete"
	VerbDismiss    Verb = "dismiss"
)

// Control is a parsed control token. Dismiss carries a download file name
// instead of a package ID.
type Control struct {
	Verb      Verb
	PackageID uint64
	Version   string
	File      string
}

// String renders the control back into token form.
func (c Control) String() string {
	if c.Verb == VerbDismiss {
		return ControlScheme + string(c.Verb) + "/" + url.PathEscape(c.File)
	}
	s := fmt.Sprintf("%s%s/%d", ControlScheme, c.Verb, c.PackageID)
	if c.Version != "" {
		s += "?version=" + url.QueryEscape(c.Version)
	}
	return s
}

// IsControl reports whether the string looks like a control token.
func IsControl(raw string) bool {
	return strings.HasPrefix(raw, ControlScheme)
}

// ParseControl parses modsync://<verb>/<packageId>[?version=v] and
// modsync://dismiss/<file>.
func ParseControl(raw string) (Control, error) {
	if !IsControl(raw) {
		return Control{}, fmt.Errorf("%w: %q", ErrMalformedToken, raw)
	}
	rest := strings.TrimPrefix(raw, ControlScheme)
	path, query, _ := strings.Cut(rest, "?")

	verb, idStr, ok := strings.Cut(path, "/")
	if !ok {
		return Control{}, fmt.Errorf("%w: missing package id in %q", ErrMalformedToken, raw)
	}
	switch Verb(verb) {
	case VerbActivate, VerbDeactivate, VerbDelete:
	case VerbDismiss:
		file, err := url.PathUnescape(idStr)
		if err != nil || file == "" || strings.Contains(file, "/") {
			return Control{}, fmt.Errorf("%w: bad file name %q", ErrMalformedToken, idStr)
		}
		return Control{Verb: VerbDismiss, File: file}, nil
	default:
		return Control{}, fmt.Errorf("%w: unknown command %q", ErrMalformedToken, verb)
	}

	id, err := strconv.ParseUint(strings.Trim(idStr, "/"), 10, 64)
	if err != nil {
		return Control{}, fmt.Errorf("%w: bad package id %q", ErrMalformedToken, idStr)
	}

	c := Control{Verb: Verb(verb), PackageID: id}
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return Control{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		c.Version = values.Get("version")
	}
	return c, nil
}
