// Package release compares the running version with the latest published
// release.
package release

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

const (
	// Repo is the GitHub repository publishing the releases.
	Repo = "s0nik42/veolia-idf"

	defaultBaseURL = "https://api.github.com"
)

// Checker queries the GitHub releases API.
type Checker struct {
	http    *resty.Client
	repo    string
	version string
}

// Option configures a Checker.
type Option func(*Checker)

// WithBaseURL points the checker at another API root.
func WithBaseURL(u string) Option {
	return func(c *Checker) { c.http.SetBaseURL(u) }
}

// WithRepo overrides the repository.
func WithRepo(repo string) Option {
	return func(c *Checker) { c.repo = repo }
}

// NewChecker builds a checker for the running version.
func NewChecker(version string, opts ...Option) *Checker {
	c := &Checker{
		http: resty.New().
			SetBaseURL(defaultBaseURL).
			SetTimeout(10*time.Second).
			SetHeader("Accept", "application/vnd.github+json").
			SetHeader("User-Agent", "meters_to_ha - "+version),
		repo:    Repo,
		version: version,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type latestRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Check returns the latest release tag and whether it is newer than the
// running version. A newer release is logged as a warning.
func (c *Checker) Check(ctx context.Context) (string, bool, error) {
	var rel latestRelease
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&rel).
		ForceContentType("application/json").
		Get("/repos/" + c.repo + "/releases/latest")
	if err != nil {
		return "", false, eris.Wrap(err, "release: fetch latest")
	}
	if resp.IsError() {
		return "", false, eris.Errorf("release: fetch latest: status %d", resp.StatusCode())
	}
	if rel.TagName == "" {
		return "", false, eris.New("release: latest release has no tag")
	}

	newer := Newer(rel.TagName, c.version)
	if newer {
		zap.L().Warn("release: a newer version is available",
			zap.String("current", c.version),
			zap.String("latest", rel.TagName),
			zap.String("url", rel.HTMLURL))
	} else {
		zap.L().Debug("release: up to date", zap.String("current", c.version))
	}
	return rel.TagName, newer, nil
}

// Check queries the default repository.
func Check(ctx context.Context, current string) (string, bool, error) {
	return NewChecker(current).Check(ctx)
}

// Newer reports whether tag is a higher semantic version than current. A
// missing "v" prefix is tolerated. Development builds and unparseable
// versions are never considered outdated.
func Newer(tag, current string) bool {
	t, c := canonical(tag), canonical(current)
	if !semver.IsValid(t) || !semver.IsValid(c) {
		return false
	}
	return semver.Compare(t, c) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
