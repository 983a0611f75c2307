// Package decode routes file paths to the [audio.Decoder] registered for their
// extension.
//
// A [Registry] is itself an [audio.Decoder], so callers can hand it to the
// playback layer without knowing which backend serves which container.
// [Default] wires the backends shipped with this module.
package decode

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/audio/decode/faiface"
	"github.com/MrWong99/gapless/pkg/audio/decode/goaudio"
)

// Compile-time interface assertion.
var _ audio.Decoder = (*Registry)(nil)

// AllowedExtensions lists every container the library scanner accepts,
// lower-case and without the leading dot. Not all of them have a backend in
// [Default]; unsupported ones fail with [audio.ErrUnsupportedFormat] when
// probed.
var AllowedExtensions = []string{"mp3", "wav", "flac", "m4a", "tta", "aiff", "opus", "ogg", "wv"}

// Allowed reports whether path has one of [AllowedExtensions].
func Allowed(path string) bool {
	return slices.Contains(AllowedExtensions, Ext(path))
}

// Ext returns the lower-case extension of path without the leading dot.
func Ext(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}

// Registry maps file extensions to decoders. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]audio.Decoder
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]audio.Decoder)}
}

// Default returns a registry with every built-in backend: WAV through go-audio
// and MP3, FLAC, and Ogg Vorbis through beep. chunkFrames sets the decode
// granularity; zero keeps each backend's default.
func Default(chunkFrames int) *Registry {
	r := NewRegistry()
	r.Register("wav", goaudio.New(goaudio.WithChunkFrames(chunkFrames)))
	beep := faiface.New(faiface.WithChunkFrames(chunkFrames))
	for _, ext := range faiface.Extensions {
		r.Register(ext, beep)
	}
	return r
}

// Register installs dec for ext (with or without the leading dot).
// Subsequent calls with the same extension overwrite the previous
// registration.
func (r *Registry) Register(ext string, dec audio.Decoder) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExt[ext] = dec
}

// Extensions returns the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Lookup returns the decoder for path. Returns [audio.ErrUnsupportedFormat]
// when none is registered for its extension.
func (r *Registry) Lookup(path string) (audio.Decoder, error) {
	ext := Ext(path)
	r.mu.RLock()
	dec, ok := r.byExt[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decode: %q: %w", ext, audio.ErrUnsupportedFormat)
	}
	return dec, nil
}

// Probe implements [audio.Decoder].
func (r *Registry) Probe(path string) (audio.Info, error) {
	dec, err := r.Lookup(path)
	if err != nil {
		return audio.Info{}, err
	}
	return dec.Probe(path)
}

// Open implements [audio.Decoder].
func (r *Registry) Open(path string) (audio.Session, error) {
	dec, err := r.Lookup(path)
	if err != nil {
		return nil, err
	}
	return dec.Open(path)
}
