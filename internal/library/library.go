// Package library indexes the audio files under the configured roots and
// turns request paths into [audio.Track] values.
//
// A [Library] keeps one Track per file for as long as the file stays in the
// index, so a path resolved twice yields the same track ID. The player relies
// on that identity to recognise the current track when a client re-sends its
// playlist.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/audio/decode"
)

// ErrNotAllowed is returned by [Library.Resolve] for files whose extension
// is not on the allow list.
var ErrNotAllowed = errors.New("library: extension not allowed")

// FailureRecorder receives probe failures keyed by file extension.
type FailureRecorder interface {
	RecordDecodeFailure(ctx context.Context, format string)
}

// Option configures a [Library].
type Option func(*Library)

// WithExtensions restricts scanning to exts (case-insensitive, dot
// optional). Extensions outside [decode.AllowedExtensions] are ignored.
func WithExtensions(exts ...string) Option {
	return func(l *Library) {
		l.exts = normalizeExts(exts)
	}
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(l *Library) {
		if log != nil {
			l.log = log
		}
	}
}

// WithFailureRecorder reports every file that fails to probe.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(l *Library) { l.failures = r }
}

// WithConcurrency bounds how many files are probed in parallel. Defaults to
// the number of CPUs.
func WithConcurrency(n int) Option {
	return func(l *Library) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithMatcher replaces the default fuzzy matcher.
func WithMatcher(m *Matcher) Option {
	return func(l *Library) {
		if m != nil {
			l.matcher = m
		}
	}
}

// Library is a scanned set of tracks. It is safe for concurrent use.
type Library struct {
	dec      audio.Decoder
	log      *slog.Logger
	exts     []string
	workers  int
	matcher  *Matcher
	failures FailureRecorder

	mu      sync.RWMutex
	roots   []string
	tracks  []audio.Track // sorted by path
	byPath  map[string]audio.Track
	adhoc   map[string]audio.Track   // resolved outside the roots
	extra   map[string][]audio.Track // repeated occurrences within one Resolve
	scanErr error
}

// New returns an empty library that probes files with dec.
func New(dec audio.Decoder, opts ...Option) *Library {
	l := &Library{
		dec:     dec,
		log:     slog.Default(),
		exts:    slices.Clone(decode.AllowedExtensions),
		workers: runtime.NumCPU(),
		matcher: NewMatcher(),
		byPath:  make(map[string]audio.Track),
		adhoc:   make(map[string]audio.Track),
		extra:   make(map[string][]audio.Track),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetExtensions replaces the extension filter used by later scans and
// resolves.
func (l *Library) SetExtensions(exts ...string) {
	norm := normalizeExts(exts)
	l.mu.Lock()
	l.exts = norm
	l.mu.Unlock()
}

// Scan walks roots and replaces the index with every playable file found.
// Files already indexed keep their track. Unreadable roots are reported in
// the returned error but do not prevent the rest from being indexed.
func (l *Library) Scan(ctx context.Context, roots []string) error {
	expanded := make([]string, 0, len(roots))
	var errs []error
	var paths []string
	for _, root := range roots {
		dir, err := ExpandPath(root)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		expanded = append(expanded, dir)
		found, err := l.walk(ctx, dir)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
		paths = append(paths, found...)
	}
	slices.Sort(paths)
	paths = slices.Compact(paths)

	l.mu.RLock()
	known := make(map[string]audio.Track, len(l.byPath)+len(l.adhoc))
	for p, t := range l.adhoc {
		known[p] = t
	}
	for p, t := range l.byPath {
		known[p] = t
	}
	l.mu.RUnlock()

	probed := make([]*audio.Track, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for i, p := range paths {
		if t, ok := known[p]; ok {
			probed[i] = &t
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			t, err := l.probe(gctx, p)
			if err != nil {
				return nil
			}
			probed[i] = &t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("library: scan: %w", err)
	}

	tracks := make([]audio.Track, 0, len(paths))
	byPath := make(map[string]audio.Track, len(paths))
	for _, t := range probed {
		if t == nil {
			continue
		}
		tracks = append(tracks, *t)
		byPath[t.Path] = *t
	}
	scanErr := errors.Join(errs...)

	l.mu.Lock()
	l.roots = expanded
	l.tracks = tracks
	l.byPath = byPath
	for p := range l.adhoc {
		if _, ok := byPath[p]; ok {
			delete(l.adhoc, p)
		}
	}
	l.scanErr = scanErr
	l.mu.Unlock()

	l.log.Info("library scanned", "roots", expanded, "tracks", len(tracks), "skipped", len(paths)-len(tracks))
	return scanErr
}

func (l *Library) walk(ctx context.Context, root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			l.log.Warn("library: skipping unreadable entry", "path", path, "err", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && l.allowed(path) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return found, fmt.Errorf("library: scan %s: %w", root, err)
	}
	return found, nil
}

func (l *Library) probe(ctx context.Context, path string) (audio.Track, error) {
	info, err := l.dec.Probe(path)
	if err != nil {
		l.log.Warn("library: probe failed", "path", path, "err", err)
		if l.failures != nil {
			l.failures.RecordDecodeFailure(ctx, decode.Ext(path))
		}
		return audio.Track{}, err
	}
	return audio.NewTrack(path, info), nil
}

func (l *Library) allowed(path string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return decode.Allowed(path) && slices.Contains(l.exts, decode.Ext(path))
}

// Resolve maps paths to tracks, probing files that are not in the index. The
// n-th occurrence of a path always maps to the same track, so repeated
// entries in one playlist stay distinguishable across calls.
func (l *Library) Resolve(ctx context.Context, paths []string) ([]audio.Track, error) {
	out := make([]audio.Track, 0, len(paths))
	seen := make(map[string]int, len(paths))
	for _, raw := range paths {
		p, err := ExpandPath(raw)
		if err != nil {
			return nil, err
		}
		if !l.allowed(p) {
			return nil, fmt.Errorf("library: resolve %q: %w", raw, ErrNotAllowed)
		}
		t, err := l.occurrence(ctx, p, seen[p])
		if err != nil {
			return nil, fmt.Errorf("library: resolve %q: %w", raw, err)
		}
		seen[p]++
		out = append(out, t)
	}
	return out, nil
}

func (l *Library) occurrence(ctx context.Context, path string, n int) (audio.Track, error) {
	l.mu.RLock()
	base, ok := l.lookupLocked(path)
	if ok && n > 0 && n-1 < len(l.extra[path]) {
		dup := l.extra[path][n-1]
		l.mu.RUnlock()
		return dup, nil
	}
	l.mu.RUnlock()

	if !ok {
		t, err := l.probe(ctx, path)
		if err != nil {
			return audio.Track{}, err
		}
		l.mu.Lock()
		if existing, found := l.lookupLocked(path); found {
			t = existing
		} else {
			l.adhoc[path] = t
		}
		l.mu.Unlock()
		base = t
	}
	if n == 0 {
		return base, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.extra[path]) < n {
		dupe := base
		dupe.ID = uuid.New()
		l.extra[path] = append(l.extra[path], dupe)
	}
	return l.extra[path][n-1], nil
}

func (l *Library) lookupLocked(path string) (audio.Track, bool) {
	if t, ok := l.byPath[path]; ok {
		return t, true
	}
	t, ok := l.adhoc[path]
	return t, ok
}

// Tracks returns the indexed tracks sorted by path.
func (l *Library) Tracks() []audio.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.tracks)
}

// Len returns the number of indexed tracks.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tracks)
}

// Status reports the index size and the error of the last scan.
func (l *Library) Status() (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tracks), l.scanErr
}

// Roots returns the expanded roots of the last scan.
func (l *Library) Roots() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.roots)
}

// Find ranks indexed tracks against query. An empty query lists the first
// limit tracks; limit <= 0 means no limit.
func (l *Library) Find(query string, limit int) []Match {
	tracks := l.Tracks()
	var out []Match
	if strings.TrimSpace(query) == "" {
		out = make([]Match, 0, len(tracks))
		for _, t := range tracks {
			out = append(out, Match{Track: t, Score: 1})
		}
	} else {
		out = l.matcher.Rank(query, tracks)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ExpandPath resolves a leading ~ to the home directory and cleans the
// result.
func ExpandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("library: expand %q: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Clean(p), nil
}

func normalizeExts(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if slices.Contains(decode.AllowedExtensions, e) && !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}
