// Package httpapi exposes the service over HTTP: the websocket chat feed,
// the control endpoints used by stream-deck style tooling, health and
// status probes, and the embedded browser overlay.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Aliisa-yt/twitchbot/internal/config"
	"github.com/Aliisa-yt/twitchbot/internal/observability"
	"github.com/Aliisa-yt/twitchbot/internal/pipeline"
	"github.com/Aliisa-yt/twitchbot/internal/playback"
	"github.com/Aliisa-yt/twitchbot/internal/session"
	"github.com/Aliisa-yt/twitchbot/internal/transcript"
	"github.com/Aliisa-yt/twitchbot/internal/translate"
	"github.com/Aliisa-yt/twitchbot/internal/tts"
)

const controlTimeout = 5 * time.Second

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	coord    *pipeline.Coordinator
	router   *translate.Router
	engines  *tts.Registry
	synth    *tts.Manager
	player   *playback.Manager
	feed     *transcript.Log
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(
	cfg config.Config,
	sessions *session.Manager,
	coord *pipeline.Coordinator,
	router *translate.Router,
	engines *tts.Registry,
	synth *tts.Manager,
	player *playback.Manager,
	feed *transcript.Log,
	metrics *observability.Metrics,
) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		coord:    coord,
		router:   router,
		engines:  engines,
		synth:    synth,
		player:   player,
		feed:     feed,
		metrics:  metrics,
		static:   overlayHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so a random website cannot attach to the feed
				// if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/ws/feed", s.handleFeedWS)

	r.Get("/api/status", s.handleStatus)
	r.Post("/api/status/reset", s.handleStatusReset)
	r.Get("/api/engines", s.handleListEngines)
	r.Post("/api/engines/active", s.handleSetEngine)
	r.Get("/api/usage", s.handleUsage)
	r.Post("/api/skip", s.handleSkip)
	r.Post("/api/clear", s.handleClear)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	translators := s.router.EngineNames()
	if len(translators) == 0 {
		respondError(w, http.StatusServiceUnavailable, "no_translation_engine", "no translation engine is registered")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":              "ready",
		"translation_engines": len(translators),
		"speech_engines":      len(s.engines.Names()),
	})
}

type queueStatus struct {
	Ingest    int  `json:"ingest"`
	Synthesis int  `json:"synthesis"`
	Playback  int  `json:"playback"`
	Playing   bool `json:"playing"`
}

type engineHealth struct {
	LastGood            *time.Time `json:"last_good,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	QuotaRemaining      int64      `json:"quota_remaining,omitempty"`
}

type translationStatus struct {
	Active  string                  `json:"active"`
	Engines map[string]engineHealth `json:"engines"`
}

type statusResponse struct {
	Status         string                      `json:"status"`
	Sessions       int                         `json:"sessions"`
	Queues         queueStatus                 `json:"queues"`
	Translation    translationStatus           `json:"translation"`
	SpeechEngines  map[string]string           `json:"speech_engines"`
	SpeechAccepted uint64                      `json:"speech_accepted"`
	Transcript     int                         `json:"transcript_entries"`
	Stages         observability.StageSnapshot `json:"stages"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	names := s.router.EngineNames()
	active := ""
	if len(names) > 0 {
		active = names[0]
	}

	health := s.router.EngineHealth()
	translators := make(map[string]engineHealth, len(health))
	for name, h := range health {
		eh := engineHealth{
			ConsecutiveFailures: h.ConsecutiveFailures,
			QuotaRemaining:      h.QuotaRemaining,
		}
		if !h.LastGood.IsZero() {
			t := h.LastGood
			eh.LastGood = &t
		}
		translators[name] = eh
	}

	speech := make(map[string]string)
	for name, state := range s.engines.Snapshot() {
		speech[name] = state.String()
	}

	respondJSON(w, http.StatusOK, statusResponse{
		Status:   "ok",
		Sessions: s.sessions.ActiveCount(),
		Queues: queueStatus{
			Ingest:    s.coord.QueueLen(),
			Synthesis: s.synth.QueueLen(),
			Playback:  s.player.QueueLen(),
			Playing:   s.player.Playing(),
		},
		Translation:    translationStatus{Active: active, Engines: translators},
		SpeechEngines:  speech,
		SpeechAccepted: s.synth.Accepted(),
		Transcript:     s.feed.Len(),
		Stages:         s.metrics.SnapshotStages(),
	})
}

// handleStatusReset clears the rolling latency window behind /api/status,
// typically between test runs of a stream setup. Prometheus counters are
// not touched.
func (s *Server) handleStatusReset(w http.ResponseWriter, _ *http.Request) {
	s.metrics.ResetStages()
	respondJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

func (s *Server) handleListEngines(w http.ResponseWriter, _ *http.Request) {
	names := s.router.EngineNames()
	active := ""
	if len(names) > 0 {
		active = names[0]
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"active":  active,
		"engines": names,
	})
}

type setEngineRequest struct {
	Engine string `json:"engine"`
}

func (s *Server) handleSetEngine(w http.ResponseWriter, r *http.Request) {
	var req setEngineRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	name := strings.ToLower(strings.TrimSpace(req.Engine))
	if name == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "engine name is required")
		return
	}
	if err := s.router.SetActiveEngine(name); err != nil {
		respondError(w, http.StatusNotFound, "unknown_engine", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"active": name})
}

type usageResponse struct {
	Engine  string  `json:"engine"`
	Valid   bool    `json:"valid"`
	Count   int64   `json:"count"`
	Limit   int64   `json:"limit"`
	Percent float64 `json:"percent,omitempty"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()

	engine, quota, err := s.router.Usage(ctx)
	if err != nil {
		respondError(w, http.StatusBadGateway, "usage_unavailable", err.Error())
		return
	}
	resp := usageResponse{
		Engine: engine,
		Valid:  quota.Valid,
		Count:  quota.Count,
		Limit:  quota.Limit,
	}
	if quota.Valid && quota.Limit > 0 {
		resp.Percent = float64(quota.Count) / float64(quota.Limit) * 100
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
	defer cancel()
	respondJSON(w, http.StatusOK, map[string]any{
		"skipped": s.coord.Skip(ctx),
	})
}

type clearRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	removed := s.coord.ClearChat(strings.TrimSpace(req.UserID))
	respondJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
