package profile

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"embed"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"hostbench/internal/fault"
	"hostbench/internal/retry"
	"hostbench/internal/util"
)

//go:embed resources
var resources embed.FS

var profileExtensions = []string{".yaml", ".yml", ".json"}

// BuiltinNames returns the names of the profiles compiled into the binary.
func BuiltinNames() []string {
	entries, err := resources.ReadDir("resources")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	slices.Sort(names)
	return names
}

// Builtin returns the named built-in profile. The extension is optional and
// the name is case insensitive.
func Builtin(name string) (*Document, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	for _, builtin := range BuiltinNames() {
		if !strings.EqualFold(builtin, base) {
			continue
		}
		for _, ext := range profileExtensions {
			content, err := resources.ReadFile(path.Join("resources", builtin+ext))
			if err != nil {
				continue
			}
			doc, err := Parse(builtin, content)
			if err != nil {
				return nil, err
			}
			doc.Source = "builtin:" + builtin
			return doc, nil
		}
	}
	return nil, fault.New(fault.KindProfileComposition, fault.ReasonProfileNotFound, "built-in profile %s does not exist", name)
}

// Locator resolves profile references to documents.
type Locator struct {
	ProfilesDir   string
	DownloadsDir  string
	ExtensionsDir string
	HTTPClient    *http.Client
	// Retry applies to profile downloads.
	Retry retry.Policy
}

// NewLocator returns a locator over the standard directories below appDir.
func NewLocator(appDir string) *Locator {
	return &Locator{
		ProfilesDir:   filepath.Join(appDir, "profiles"),
		DownloadsDir:  filepath.Join(appDir, "downloads"),
		ExtensionsDir: filepath.Join(appDir, "extensions"),
		HTTPClient:    &http.Client{Timeout: 60 * time.Second},
		Retry: retry.Policy{
			MaxAttempts: 5,
			Backoff:     retry.Exponential(2*time.Second, 30*time.Second),
			Retryable:   retry.IsTransient,
		},
	}
}

// LoadAll loads every reference in order.
func (l *Locator) LoadAll(ctx context.Context, refs []string) ([]*Document, error) {
	docs := make([]*Document, 0, len(refs))
	for _, ref := range refs {
		doc, err := l.Load(ctx, ref)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Load resolves ref and parses the document it names.
func (l *Locator) Load(ctx context.Context, ref string) (*Document, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fault.New(fault.KindProfileComposition, fault.ReasonProfileNotFound, "empty profile reference")
	}
	if isURI(ref) {
		downloaded, err := l.download(ctx, ref)
		if err != nil {
			return nil, err
		}
		return l.parseFile(profileName(ref), downloaded)
	}
	for _, candidate := range l.candidates(ref) {
		if exists, _ := util.FileExists(candidate); exists {
			return l.parseFile(profileName(ref), candidate)
		}
	}
	doc, err := Builtin(ref)
	if err == nil {
		slog.Debug("using built-in profile", slog.String("profile", doc.Name))
		return doc, nil
	}
	return nil, fault.New(fault.KindProfileComposition, fault.ReasonProfileNotFound, "profile %s does not exist", ref)
}

// candidates lists the paths probed for ref, in order.
func (l *Locator) candidates(ref string) []string {
	names := []string{ref}
	if filepath.Ext(ref) == "" {
		for _, ext := range profileExtensions {
			names = append(names, ref+ext)
		}
	}
	var dirs []string
	if l.ProfilesDir != "" {
		dirs = append(dirs, l.ProfilesDir)
	}
	if l.DownloadsDir != "" {
		dirs = append(dirs, l.DownloadsDir)
	}
	if l.ExtensionsDir != "" {
		matches, err := filepath.Glob(filepath.Join(l.ExtensionsDir, "*", "profiles"))
		if err == nil {
			slices.Sort(matches)
			dirs = append(dirs, matches...)
		}
	}
	var candidates []string
	for _, name := range names {
		candidates = append(candidates, util.ExpandUser(name))
	}
	// only bare names are looked up in the well known directories
	if filepath.Base(ref) == ref {
		for _, dir := range dirs {
			for _, name := range names {
				candidates = append(candidates, filepath.Join(dir, name))
			}
		}
	}
	return candidates
}

func (l *Locator) parseFile(name, path string) (*Document, error) {
	content, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fault.Wrap(fault.KindProfileComposition, fault.ReasonProfileNotFound, err, "failed to read profile %s", path)
	}
	doc, err := Parse(name, content)
	if err != nil {
		return nil, err
	}
	doc.Source = path
	slog.Debug("loaded profile", slog.String("profile", name), slog.String("path", path))
	return doc, nil
}

// download fetches uri into the downloads directory and returns the local path.
func (l *Locator) download(ctx context.Context, uri string) (string, error) {
	if l.DownloadsDir == "" {
		return "", fault.New(fault.KindProfileComposition, fault.ReasonProfileNotFound, "no downloads directory configured for %s", uri)
	}
	if err := util.CreateDirectoryIfNotExists(l.DownloadsDir, 0755); err != nil { // #nosec G301
		return "", fmt.Errorf("failed to create downloads directory: %w", err)
	}
	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	policy := l.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.None
	}
	var content []byte
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return fault.Wrap(fault.KindProfileComposition, fault.ReasonProfileNotFound, err, "invalid profile URI")
		}
		resp, err := client.Do(req)
		if err != nil {
			return fault.Wrap(fault.KindTransientExecution, "", err, "failed to download profile %s", redact(uri))
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fault.New(fault.KindTransientExecution, "", "failed to download profile %s: %s", redact(uri), resp.Status)
		default:
			return fault.New(fault.KindProfileComposition, fault.ReasonProfileNotFound, "failed to download profile %s: %s", redact(uri), resp.Status)
		}
		content, err = io.ReadAll(resp.Body)
		if err != nil {
			return fault.Wrap(fault.KindTransientExecution, "", err, "failed to read profile %s", redact(uri))
		}
		return nil
	}, nil)
	if err != nil {
		return "", err
	}
	local := filepath.Join(l.DownloadsDir, downloadName(uri))
	if err := util.WriteFileAtomic(local, content, 0644); err != nil {
		return "", fmt.Errorf("failed to save downloaded profile: %w", err)
	}
	slog.Info("downloaded profile", slog.String("uri", redact(uri)), slog.String("path", local))
	return local, nil
}

func isURI(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// redact drops the query string, which may carry an access token.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	u.RawQuery = ""
	return u.String()
}

func downloadName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || path.Base(u.Path) == "/" || path.Base(u.Path) == "." {
		return "profile.yaml"
	}
	return path.Base(u.Path)
}

// profileName returns the reference without directories or extension.
func profileName(ref string) string {
	if isURI(ref) {
		ref = downloadName(ref)
	}
	base := filepath.Base(ref)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
