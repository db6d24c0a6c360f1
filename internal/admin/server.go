// Package admin serves the operator control surface over HTTP.
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"hiveops/internal/gate"
	"hiveops/internal/logging"
	"hiveops/internal/sink"
	"hiveops/internal/swarm"
)

//go:embed templates/index.html
var content embed.FS

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h on /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithDecisionRate limits decision and revoke requests to r per second
// with the given burst.
func WithDecisionRate(r float64, burst int) Option {
	return func(s *Server) { s.limiter = rate.NewLimiter(rate.Limit(r), burst) }
}

// Spawner places ground objects in the world.
type Spawner interface {
	AddObject(class string, pos swarm.Position) string
}

// EventLog returns the newest store events, oldest first.
type EventLog interface {
	Recent(n int) []sink.EventRow
}

// WithSpawner enables manual object injection on POST /objects.
func WithSpawner(sp Spawner) Option {
	return func(s *Server) { s.spawner = sp }
}

// WithEventLog serves the recent event tail on GET /events.
func WithEventLog(l EventLog) Option {
	return func(s *Server) { s.events = l }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server exposes the swarm snapshot and the authorization gate.
type Server struct {
	store   *swarm.Store
	gate    *gate.Gate
	metrics http.Handler
	spawner Spawner
	events  EventLog
	limiter *rate.Limiter
	log     *slog.Logger
	tpl     *template.Template
	mux     *http.ServeMux
}

// NewServer wires the routes over store and g.
func NewServer(store *swarm.Store, g *gate.Gate, opts ...Option) *Server {
	s := &Server{
		store:   store,
		gate:    g,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
		log:     slog.Default(),
		tpl:     template.Must(template.New("index.html").ParseFS(content, "templates/index.html")),
		mux:     http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	s.mux.HandleFunc("GET /threats/pending", s.handlePending)
	s.mux.HandleFunc("POST /threats/{id}/decision", s.limit(s.handleDecision))
	s.mux.HandleFunc("POST /threats/{id}/revoke", s.limit(s.handleRevoke))
	s.mux.HandleFunc("GET /patrol", s.handleGetPatrol)
	s.mux.HandleFunc("POST /patrol", s.limit(s.handleSetPatrol))
	s.mux.HandleFunc("POST /objects", s.limit(s.handleSpawn))
	s.mux.HandleFunc("GET /events", s.handleEvents)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

func (s *Server) limit(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("too many operator requests, slow down"))
			return
		}
		h(w, r)
	}
}

type pendingView struct {
	swarm.ThreatRecord
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) pending() []pendingView {
	threats := s.gate.Pending()
	out := make([]pendingView, 0, len(threats))
	for _, t := range threats {
		v := pendingView{ThreatRecord: t}
		if d, ok := s.gate.Deadline(t); ok {
			v.ExpiresAt = &d
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	data := struct {
		Snapshot *swarm.Snapshot
		Pending  []pendingView
		Backlog  int
	}{
		Snapshot: snap,
		Pending:  s.pending(),
		Backlog:  snap.Backlog(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Error("render index", "err", err)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pending())
}

type decisionRequest struct {
	Decision swarm.Decision `json:"decision"`
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	id, err := threatID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Decision != swarm.DecisionAuthorize && req.Decision != swarm.DecisionDismiss {
		writeError(w, http.StatusBadRequest, errors.New("decision must be authorize or dismiss"))
		return
	}
	ctx := logging.NewContext(r.Context(), s.log.With("remote", r.RemoteAddr))
	res, err := s.gate.Decide(ctx, id, req.Decision)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, err := threatID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ctx := logging.NewContext(r.Context(), s.log.With("remote", r.RemoteAddr))
	rec, err := s.gate.Revoke(ctx, id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetPatrol(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.PatrolArea())
}

type patrolRequest struct {
	Center swarm.Position `json:"center"`
	Radius float64        `json:"radius"`
}

func (s *Server) handleSetPatrol(w http.ResponseWriter, r *http.Request) {
	var req patrolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	area, err := s.store.SetPatrolArea(req.Center, req.Radius)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.log.Info("patrol area set", "x", area.Center.X, "y", area.Center.Y, "radius", area.Radius, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, area)
}

type spawnRequest struct {
	Class    string         `json:"class"`
	Position swarm.Position `json:"position"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	if s.spawner == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no simulated world to spawn into"))
		return
	}
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Class == "" {
		writeError(w, http.StatusBadRequest, errors.New("class is required"))
		return
	}
	req.Position.Z = 0
	id := s.spawner.AddObject(req.Class, req.Position)
	s.log.Info("object spawned", "id", id, "class", req.Class, "x", req.Position.X, "y", req.Position.Y, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

const defaultEventLimit = 50

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("event log not enabled"))
		return
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.events.Recent(limit))
}

func threatID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, swarm.ErrUnknownThreat):
		return http.StatusNotFound
	case errors.Is(err, swarm.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, swarm.ErrInvalidPatrolArea):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
