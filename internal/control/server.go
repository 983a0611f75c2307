// Package control exposes the player over HTTP and a websocket event
// stream.
//
//	POST /v1/play | pause | toggle | next | previous | stop
//	POST /v1/seek             {offset_seconds} | {percentage} | {index}
//	PUT  /v1/queue            {paths, from_index, offset_seconds}
//	GET  /v1/queue
//	POST /v1/queue/continue   {paths}
//	PUT  /v1/volume           {volume}
//	GET  /v1/status
//	GET  /v1/library?q=&limit=
//	GET  /v1/events           websocket, JSON messages
//
// Every command answers with the resulting [Status] once the scheduler has
// committed it. [Client] is the matching Go client.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/gapless/internal/library"
	"github.com/MrWong99/gapless/internal/observe"
	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
	"github.com/MrWong99/gapless/pkg/playback"
)

const (
	maxBodyBytes        = 1 << 20
	defaultLibraryLimit = 50
)

// Player is the command surface the server drives. *playback.Player
// satisfies it.
type Player interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Toggle(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Stop(ctx context.Context) error
	SeekOffset(ctx context.Context, t mediatime.Time) error
	SeekPercentage(ctx context.Context, pct float64) error
	SeekIndex(ctx context.Context, i int) error
	ReplaceQueue(ctx context.Context, tracks []audio.Track, from int, offset mediatime.Time) error
	ContinueWithCurrentItems(ctx context.Context, tracks []audio.Track) error
	SetVolume(ctx context.Context, v float64) error
	Status() playback.PlayerStatus
	Playlist() []audio.Track
	IndexOf(id uuid.UUID) int
	Subscribe(buffer int) *playback.Subscription
}

// Library resolves request paths and answers searches. *library.Library
// satisfies it.
type Library interface {
	Resolve(ctx context.Context, paths []string) ([]audio.Track, error)
	Find(query string, limit int) []library.Match
}

var (
	_ Player  = (*playback.Player)(nil)
	_ Library = (*library.Library)(nil)
)

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records command counts and latency into m. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithRoutes lets other packages add routes (health probes, /metrics) to
// the same mux, behind the same middleware.
func WithRoutes(register func(mux *http.ServeMux)) Option {
	return func(s *Server) {
		if register != nil {
			s.extra = append(s.extra, register)
		}
	}
}

// WithEventBuffer sets the per-connection event buffer.
func WithEventBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithOriginPatterns allows cross-origin websocket clients whose Origin host
// matches one of patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// Server routes HTTP requests to a [Player].
type Server struct {
	player      Player
	lib         Library
	log         *slog.Logger
	metrics     *observe.Metrics
	extra       []func(*http.ServeMux)
	eventBuffer int
	origins     []string
}

// New creates a server for player. lib may be nil, in which case queue
// edits and searches fail with 503.
func New(player Player, lib Library, opts ...Option) *Server {
	s := &Server{
		player:      player,
		lib:         lib,
		log:         slog.Default(),
		eventBuffer: playback.DefaultSubscriberBuffer,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the routed handler wrapped in [observe.Middleware].
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/play", s.command("play", s.handlePlay))
	mux.HandleFunc("POST /v1/pause", s.command("pause", s.handlePause))
	mux.HandleFunc("POST /v1/toggle", s.command("toggle", s.handleToggle))
	mux.HandleFunc("POST /v1/next", s.command("next", s.handleNext))
	mux.HandleFunc("POST /v1/previous", s.command("previous", s.handlePrevious))
	mux.HandleFunc("POST /v1/stop", s.command("stop", s.handleStop))
	mux.HandleFunc("POST /v1/seek", s.command("seek", s.handleSeek))
	mux.HandleFunc("PUT /v1/queue", s.command("replace_queue", s.handleReplaceQueue))
	mux.HandleFunc("POST /v1/queue/continue", s.command("continue", s.handleContinue))
	mux.HandleFunc("PUT /v1/volume", s.command("volume", s.handleVolume))
	mux.HandleFunc("GET /v1/queue", s.handleGetQueue)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/library", s.handleLibrary)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	for _, register := range s.extra {
		register(mux)
	}
	return observe.Middleware(s.metrics, observe.WithAccessLogger(s.log))(mux)
}

// ── Commands ─────────────────────────────────────────────────────────────────

// command wraps fn with a span, the command metrics, and the JSON response.
func (s *Server) command(name string, fn func(ctx context.Context, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observe.StartSpan(r.Context(), "control."+name)
		defer span.End()

		start := time.Now()
		err := fn(ctx, r)
		elapsed := time.Since(start)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.metrics.RecordCommand(ctx, name, "error", elapsed)
			code := statusCode(err)
			if code >= http.StatusInternalServerError {
				observe.Logger(ctx, s.log).Error("control: command failed", "command", name, "err", err)
			}
			writeJSON(w, code, Error{Error: err.Error()})
			return
		}
		s.metrics.RecordCommand(ctx, name, "ok", elapsed)
		writeJSON(w, http.StatusOK, statusOf(s.player.Status()))
	}
}

// handlePlay handles POST /v1/play.
func (s *Server) handlePlay(ctx context.Context, _ *http.Request) error {
	return s.player.Play(ctx)
}

// handlePause handles POST /v1/pause.
func (s *Server) handlePause(ctx context.Context, _ *http.Request) error {
	return s.player.Pause(ctx)
}

// handleToggle handles POST /v1/toggle.
func (s *Server) handleToggle(ctx context.Context, _ *http.Request) error {
	return s.player.Toggle(ctx)
}

// handleNext handles POST /v1/next.
func (s *Server) handleNext(ctx context.Context, _ *http.Request) error {
	return s.player.Next(ctx)
}

// handlePrevious handles POST /v1/previous.
func (s *Server) handlePrevious(ctx context.Context, _ *http.Request) error {
	return s.player.Previous(ctx)
}

// handleStop handles POST /v1/stop.
func (s *Server) handleStop(ctx context.Context, _ *http.Request) error {
	return s.player.Stop(ctx)
}

// handleSeek handles POST /v1/seek.
func (s *Server) handleSeek(ctx context.Context, r *http.Request) error {
	var req SeekRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	set := 0
	for _, ok := range []bool{req.OffsetSeconds != nil, req.Percentage != nil, req.Index != nil} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return badRequest("exactly one of offset_seconds, percentage, index is required")
	}

	switch {
	case req.OffsetSeconds != nil:
		return s.player.SeekOffset(ctx, mediatime.FromSeconds(*req.OffsetSeconds, mediatime.PreferredScale))
	case req.Percentage != nil:
		if *req.Percentage < 0 || *req.Percentage > 1 {
			return badRequest("percentage must be within [0, 1]")
		}
		return s.player.SeekPercentage(ctx, *req.Percentage)
	default:
		return s.player.SeekIndex(ctx, *req.Index)
	}
}

// handleReplaceQueue handles PUT /v1/queue.
func (s *Server) handleReplaceQueue(ctx context.Context, r *http.Request) error {
	var req QueueRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.OffsetSeconds < 0 {
		return badRequest("offset_seconds must not be negative")
	}
	tracks, err := s.resolve(ctx, req.Paths)
	if err != nil {
		return err
	}
	offset := mediatime.FromSeconds(req.OffsetSeconds, mediatime.PreferredScale)
	return s.player.ReplaceQueue(ctx, tracks, req.FromIndex, offset)
}

// handleContinue handles POST /v1/queue/continue.
func (s *Server) handleContinue(ctx context.Context, r *http.Request) error {
	var req ContinueRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	tracks, err := s.resolve(ctx, req.Paths)
	if err != nil {
		return err
	}
	return s.player.ContinueWithCurrentItems(ctx, tracks)
}

// handleVolume handles PUT /v1/volume.
func (s *Server) handleVolume(ctx context.Context, r *http.Request) error {
	var req VolumeRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if req.Volume == nil {
		return badRequest("volume is required")
	}
	if *req.Volume < 0 || *req.Volume > 1 {
		return badRequest("volume must be within [0, 1]")
	}
	return s.player.SetVolume(ctx, *req.Volume)
}

func (s *Server) resolve(ctx context.Context, paths []string) ([]audio.Track, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if s.lib == nil {
		return nil, errNoLibrary
	}
	return s.lib.Resolve(ctx, paths)
}

// ── Queries ──────────────────────────────────────────────────────────────────

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusOf(s.player.Status()))
}

// handleGetQueue handles GET /v1/queue.
func (s *Server) handleGetQueue(w http.ResponseWriter, _ *http.Request) {
	pl := s.player.Playlist()
	q := Queue{Index: s.player.Status().Index, Tracks: make([]Track, len(pl))}
	for i, t := range pl {
		q.Tracks[i] = trackOf(t)
	}
	writeJSON(w, http.StatusOK, q)
}

// handleLibrary handles GET /v1/library?q=&limit=.
func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	if s.lib == nil {
		writeJSON(w, http.StatusServiceUnavailable, Error{Error: errNoLibrary.Error()})
		return
	}
	limit := defaultLibraryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, Error{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	q := r.URL.Query().Get("q")
	writeJSON(w, http.StatusOK, LibraryResult{Query: q, Results: hitsOf(s.lib.Find(q, limit))})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

var errNoLibrary = errors.New("control: no library configured")

type badRequest string

func (e badRequest) Error() string { return string(e) }

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

func statusCode(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br), errors.Is(err, library.ErrNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errNoLibrary), errors.Is(err, playback.ErrClosed),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
