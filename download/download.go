// Package download delivers a finished job's artifact to the user, either
// as a direct link or by fetching and saving the bytes locally.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

const DefaultFilename = "compressed-video.mp4"

// Capability is the coarse client class that picks a strategy.
type Capability string

const (
	CapabilityDesktop Capability = "desktop"
	// CapabilityTouch clients cannot rely on download links and get the
	// fetch-and-save path.
	CapabilityTouch Capability = "touch"
)

var touchUA = regexp.MustCompile(`(?i)iPhone|iPad|iPod|Android`)

func DetectCapability(userAgent string) Capability {
	if touchUA.MatchString(userAgent) {
		return CapabilityTouch
	}
	return CapabilityDesktop
}

// Artifact describes a delivered download.
type Artifact struct {
	URL      string
	Filename string
	// Path is set when the bytes were saved locally.
	Path     string
	Bytes    int64
	Strategy string
}

type Strategy interface {
	Name() string
	Deliver(ctx context.Context, downloadURL, dir string) (Artifact, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Opener hands a link to whatever can open it (a browser, a terminal).
type Opener interface {
	Open(rawURL string) error
}

type OpenerFunc func(rawURL string) error

func (f OpenerFunc) Open(rawURL string) error { return f(rawURL) }

// FilenameFromURL takes the last path segment without query, percent-decoded.
func FilenameFromURL(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	if dec, err := url.PathUnescape(s); err == nil {
		s = dec
	}
	s = path.Base(strings.ReplaceAll(s, "\\", "/"))
	if s == "" || s == "." || s == "/" || s == ".." {
		return DefaultFilename
	}
	return s
}

// DirectLink passes the URL on without touching the bytes.
type DirectLink struct {
	Opener Opener
}

func (DirectLink) Name() string { return "direct_link" }

func (d DirectLink) Deliver(ctx context.Context, downloadURL, dir string) (Artifact, error) {
	u := strings.TrimSpace(downloadURL)
	if u == "" {
		return Artifact{}, errors.New("download url is empty")
	}
	if d.Opener != nil {
		if err := d.Opener.Open(u); err != nil {
			return Artifact{}, fmt.Errorf("open download link: %w", err)
		}
	}
	return Artifact{URL: u, Filename: FilenameFromURL(u), Strategy: d.Name()}, nil
}

// FetchAndSave downloads the artifact into dir.
type FetchAndSave struct {
	Fetcher Fetcher
}

func (FetchAndSave) Name() string { return "fetch_and_save" }

func (f FetchAndSave) Deliver(ctx context.Context, downloadURL, dir string) (Artifact, error) {
	u := strings.TrimSpace(downloadURL)
	if u == "" {
		return Artifact{}, errors.New("download url is empty")
	}
	if f.Fetcher == nil {
		return Artifact{}, errors.New("no fetcher configured")
	}
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create download dir: %w", err)
	}

	rc, err := f.Fetcher.Fetch(ctx, u)
	if err != nil {
		return Artifact{}, fmt.Errorf("fetch artifact: %w", err)
	}
	defer rc.Close()

	name := FilenameFromURL(u)
	tmp, err := os.CreateTemp(dir, "."+name+".*.part")
	if err != nil {
		return Artifact{}, err
	}
	tmpPath := tmp.Name()
	n, err := io.Copy(tmp, rc)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return Artifact{}, fmt.Errorf("save artifact: %w", err)
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return Artifact{}, err
	}
	return Artifact{URL: u, Filename: name, Path: dst, Bytes: n, Strategy: f.Name()}, nil
}

// Fallback tries Primary and, if it fails, Secondary.
type Fallback struct {
	Primary   Strategy
	Secondary Strategy
}

func (f Fallback) Name() string { return f.Primary.Name() }

func (f Fallback) Deliver(ctx context.Context, downloadURL, dir string) (Artifact, error) {
	a, err := f.Primary.Deliver(ctx, downloadURL, dir)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return a, err
	}
	a, err2 := f.Secondary.Deliver(ctx, downloadURL, dir)
	if err2 != nil {
		return Artifact{}, errors.Join(err, err2)
	}
	return a, nil
}

// ForCapability returns the strategy for a client class. Touch clients save
// locally and fall back to the link if saving fails.
func ForCapability(c Capability, fetcher Fetcher, opener Opener) Strategy {
	link := DirectLink{Opener: opener}
	if c == CapabilityTouch {
		return Fallback{Primary: FetchAndSave{Fetcher: fetcher}, Secondary: link}
	}
	return link
}

// RoutedFetcher sends URLs that Preferred owns through it and the rest
// through Default.
type RoutedFetcher struct {
	Preferred interface {
		Fetcher
		Owns(rawURL string) bool
	}
	Default Fetcher
}

func (r RoutedFetcher) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if r.Preferred != nil && r.Preferred.Owns(rawURL) {
		return r.Preferred.Fetch(ctx, rawURL)
	}
	if r.Default == nil {
		return nil, errors.New("no fetcher for url")
	}
	return r.Default.Fetch(ctx, rawURL)
}
