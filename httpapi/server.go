package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/campaign-engine/qualify"
	"github.com/PipeOpsHQ/campaign-engine/runtime/engine"
	"github.com/PipeOpsHQ/campaign-engine/state"
)

const DefaultAddr = ":8080"

// Controller is the part of the engine the API drives.
type Controller interface {
	Start(ctx context.Context, id string) (engine.Run, error)
	Pause(ctx context.Context, id string) (state.Campaign, error)
	Stop(ctx context.Context, id string) (state.Campaign, error)
	Running(id string) bool
	Generation(id string) uint64
}

// EventCounter reports events shed by the event pipeline.
type EventCounter interface {
	Dropped() map[string]uint64
}

type Config struct {
	Addr   string
	Store  state.Store
	Engine Controller
	Rules  *qualify.Rules
	Hub    *Hub
	Events EventCounter
	Logger *zap.Logger
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	state.Stats
	DroppedEvents map[string]uint64 `json:"droppedEvents,omitempty"`
}

type Server struct {
	cfg  Config
	hub  *Hub
	mux  *http.ServeMux
	http *http.Server
	once sync.Once
	log  *zap.Logger
}

func NewServer(cfg Config) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Rules == nil {
		cfg.Rules = qualify.DefaultRules()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(cfg.Logger)
	}
	s := &Server{
		cfg: cfg,
		hub: hub,
		mux: http.NewServeMux(),
		log: cfg.Logger,
	}
	s.registerRoutes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Hub is the event sink feeding GET /events.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return otelhttp.NewHandler(s.mux, "campaign-engine",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			if r.Pattern != "" {
				return r.Pattern
			}
			return r.Method + " " + r.URL.Path
		}))
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server is nil")
	}
	errCh := make(chan error, 1)
	go func() {
		err := s.http.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	s.log.Info("http api listening", zap.String("addr", s.cfg.Addr))

	select {
	case <-ctx.Done():
		if err := s.Close(); err != nil {
			s.log.Warn("http shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	var outErr error
	s.once.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		outErr = s.http.Shutdown(shutdownCtx)
		if outErr == nil {
			s.log.Info("http api stopped")
		}
	})
	return outErr
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /campaigns", s.handleCampaigns)
	s.mux.HandleFunc("GET /campaigns/{id}", s.handleCampaign)
	s.mux.HandleFunc("POST /campaigns/{id}/start", s.handleStart)
	s.mux.HandleFunc("POST /campaigns/{id}/pause", s.handleHalt(state.StatusPaused))
	s.mux.HandleFunc("POST /campaigns/{id}/stop", s.handleHalt(state.StatusStopped))
	s.mux.HandleFunc("GET /campaigns/{id}/score", s.handleScore)
	s.mux.HandleFunc("GET /campaigns/{id}/sent", s.handleSent)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.Handle("GET /events", s.hub)
}

type campaignSummary struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Status       state.CampaignStatus `json:"status"`
	CurrentIndex int                  `json:"currentIndex"`
	Total        int                  `json:"total"`
	SentCount    int                  `json:"sentCount"`
	AgentID      string               `json:"agentId,omitempty"`
	Running      bool                 `json:"running"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

type campaignView struct {
	state.Campaign
	Running    bool   `json:"running"`
	Generation uint64 `json:"generation"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	q := state.ListCampaignsQuery{
		Status: state.CampaignStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
		Limit:  parseInt(r.URL.Query().Get("limit"), 100),
		Offset: parseInt(r.URL.Query().Get("offset"), 0),
	}
	campaigns, err := s.cfg.Store.ListCampaigns(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]campaignSummary, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, campaignSummary{
			ID:           c.ID,
			Name:         c.Name,
			Status:       c.Status,
			CurrentIndex: c.CurrentIndex,
			Total:        len(c.Recipients),
			SentCount:    c.SentCount,
			AgentID:      c.AgentID,
			Running:      s.running(c.ID),
			UpdatedAt:    c.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.cfg.Store.LoadCampaign(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	view := campaignView{Campaign: c, Running: s.running(c.ID)}
	if s.cfg.Engine != nil {
		view.Generation = s.cfg.Engine.Generation(c.ID)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Engine == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("engine not configured"))
		return
	}
	id := r.PathValue("id")
	run, err := s.cfg.Engine.Start(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrCampaignCompleted) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeStoreError(w, err)
		return
	}
	s.log.Info("campaign start requested", zap.String("campaign_id", id), zap.Uint64("generation", run.Generation))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaignId": run.CampaignID,
		"generation": run.Generation,
	})
}

func (s *Server) handleHalt(status state.CampaignStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Engine == nil {
			writeError(w, http.StatusNotImplemented, fmt.Errorf("engine not configured"))
			return
		}
		id := r.PathValue("id")
		var (
			c   state.Campaign
			err error
		)
		if status == state.StatusStopped {
			c, err = s.cfg.Engine.Stop(r.Context(), id)
		} else {
			c, err = s.cfg.Engine.Pause(r.Context(), id)
		}
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, campaignSummary{
			ID:           c.ID,
			Name:         c.Name,
			Status:       c.Status,
			CurrentIndex: c.CurrentIndex,
			Total:        len(c.Recipients),
			SentCount:    c.SentCount,
			AgentID:      c.AgentID,
			Running:      s.running(c.ID),
			UpdatedAt:    c.UpdatedAt,
		})
	}
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	c, err := s.cfg.Store.LoadCampaign(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qualify.CampaignReport(c, s.cfg.Rules))
}

func (s *Server) handleSent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.cfg.Store.LoadCampaign(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	records, err := s.cfg.Store.ListSent(r.Context(), id, parseInt(r.URL.Query().Get("limit"), 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []state.SentRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := state.CollectStats(r.Context(), s.cfg.Store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := StatsResponse{Stats: stats}
	if s.cfg.Events != nil {
		resp.DroppedEvents = s.cfg.Events.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) running(id string) bool {
	return s.cfg.Engine != nil && s.cfg.Engine.Running(id)
}

func parseInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, state.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, state.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
