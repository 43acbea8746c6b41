// Package updater checks GitHub releases for a newer card-bridge build.
package updater

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/SimplyPrint/card-bridge/internal/logging"
)

const (
	// ReleasesURL lists the most recent releases of this repository.
	ReleasesURL = "https://api.github.com/repos/SimplyPrint/card-bridge/releases?per_page=20"

	CacheDuration  = 30 * time.Minute
	RequestTimeout = 10 * time.Second
	UserAgent      = "card-bridge-updater"

	maxNotesLength = 500
)

// releaseTag matches bridge releases (v1.2.3) and skips other tags in the repo.
var releaseTag = regexp.MustCompile(`^v\d+\.\d+\.\d+`)

type release struct {
	TagName     string    `json:"tag_name"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []asset   `json:"assets"`
}

type asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// UpdateInfo is the result of an update check.
type UpdateInfo struct {
	Available      bool       `json:"available"`
	CurrentVersion string     `json:"currentVersion"`
	LatestVersion  string     `json:"latestVersion,omitempty"`
	ReleaseURL     string     `json:"releaseUrl,omitempty"`
	ReleaseNotes   string     `json:"releaseNotes,omitempty"`
	PublishedAt    *time.Time `json:"publishedAt,omitempty"`
	DownloadURL    string     `json:"downloadUrl,omitempty"`
	Platform       string     `json:"platform"`
	CheckedAt      time.Time  `json:"checkedAt"`
	Error          string     `json:"error,omitempty"`
	IsDev          bool       `json:"isDev"`
}

// Checker fetches release information and caches the answer.
type Checker struct {
	currentVersion string
	url            string
	httpClient     *http.Client

	mu     sync.Mutex
	cached *UpdateInfo
	expiry time.Time
}

// NewChecker creates a checker for the running version.
func NewChecker(currentVersion string) *Checker {
	return &Checker{
		currentVersion: currentVersion,
		url:            ReleasesURL,
		httpClient:     &http.Client{Timeout: RequestTimeout},
	}
}

// Check returns the cached result unless it is stale or forceRefresh is set.
// Failures are reported in UpdateInfo.Error, never as a Go error.
func (c *Checker) Check(forceRefresh bool) *UpdateInfo {
	c.mu.Lock()
	if !forceRefresh && c.cached != nil && time.Now().Before(c.expiry) {
		info := *c.cached
		c.mu.Unlock()
		return &info
	}
	c.mu.Unlock()

	info := c.fetch()
	if info.Error != "" {
		logging.Debug(logging.CatSystem, "Update check failed", map[string]any{
			"error": info.Error,
		})
	}

	c.mu.Lock()
	c.cached = info
	c.expiry = time.Now().Add(CacheDuration)
	c.mu.Unlock()

	result := *info
	return &result
}

// ClearCache forgets the last result.
func (c *Checker) ClearCache() {
	c.mu.Lock()
	c.cached = nil
	c.expiry = time.Time{}
	c.mu.Unlock()
}

func (c *Checker) fetch() *UpdateInfo {
	current := ParseVersion(c.currentVersion)
	info := &UpdateInfo{
		CurrentVersion: c.currentVersion,
		Platform:       runtime.GOOS + "/" + runtime.GOARCH,
		CheckedAt:      time.Now(),
		IsDev:          current.IsDev(),
	}

	req, err := http.NewRequest(http.MethodGet, c.url, nil)
	if err != nil {
		info.Error = fmt.Sprintf("failed to create request: %v", err)
		return info
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		info.Error = fmt.Sprintf("failed to fetch release info: %v", err)
		return info
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusTooManyRequests:
		info.Error = "rate limited by GitHub API, try again later"
		return info
	case http.StatusNotFound:
		info.Error = "no releases found"
		return info
	default:
		info.Error = fmt.Sprintf("GitHub API returned status %d", resp.StatusCode)
		return info
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		info.Error = fmt.Sprintf("failed to parse release info: %v", err)
		return info
	}

	// newest first
	var latest *release
	for i := range releases {
		if releaseTag.MatchString(releases[i].TagName) {
			latest = &releases[i]
			break
		}
	}
	if latest == nil {
		info.Error = "no card-bridge releases found"
		return info
	}

	info.LatestVersion = latest.TagName
	info.ReleaseURL = latest.HTMLURL
	info.ReleaseNotes = truncateNotes(latest.Body, maxNotesLength)
	info.PublishedAt = &latest.PublishedAt
	info.DownloadURL = pickAsset(latest.Assets, runtime.GOOS, runtime.GOARCH)
	// dev builds are usually ahead of the last release
	info.Available = !current.IsDev() && current.IsOlderThan(ParseVersion(latest.TagName))

	return info
}

var (
	archAliases = map[string][]string{
		"amd64": {"amd64", "x86_64", "x64"},
		"arm64": {"arm64", "aarch64"},
		"386":   {"386", "i386", "x86"},
	}
	osAliases = map[string][]string{
		"darwin":  {"darwin", "macos"},
		"windows": {"windows", "win"},
		"linux":   {"linux"},
	}
	extPreference = map[string][]string{
		"darwin":  {".dmg", ".pkg", ".tar.gz", ".zip"},
		"windows": {".msi", ".exe", ".zip"},
		"linux":   {".deb", ".rpm", ".tar.gz", ".zip"},
	}
)

// pickAsset returns the download URL best matching goos/goarch, preferring
// installers over archives. Empty when nothing matches.
func pickAsset(assets []asset, goos, goarch string) string {
	arches := archAliases[goarch]
	if arches == nil {
		arches = []string{goarch}
	}
	exts := extPreference[goos]
	if exts == nil {
		exts = []string{".tar.gz", ".zip"}
	}

	best, bestScore := "", len(exts)+1
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if !containsAny(name, osAliases[goos]) {
			continue
		}
		if !containsAny(name, arches) && !(goos == "darwin" && strings.Contains(name, "universal")) {
			continue
		}

		score := len(exts)
		for i, ext := range exts {
			if strings.HasSuffix(name, ext) {
				score = i
				break
			}
		}
		if score < bestScore {
			best, bestScore = a.BrowserDownloadURL, score
		}
	}
	return best
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func truncateNotes(notes string, maxLen int) string {
	notes = strings.TrimSpace(notes)
	if len(notes) <= maxLen {
		return notes
	}
	return notes[:maxLen] + "..."
}
