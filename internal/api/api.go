// Package api is the local control-plane HTTP surface (spec.md §6): a
// loopback-only JSON API for enforcement actions, rule management, and
// alert settings, guarded by a random per-process Bearer token so only
// a local operator holding that token (handed to them out-of-band by
// portwatchctl/the UI at launch) can drive enforcement. Routing follows
// the pack's gorilla/mux + per-handler Methods() style; auth follows
// the teacher's checkin handler Bearer-token comparison.
package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/serome111/portwatch/internal/alerts"
	"github.com/serome111/portwatch/internal/config"
	"github.com/serome111/portwatch/internal/enforce"
	"github.com/serome111/portwatch/internal/model"
	"github.com/serome111/portwatch/internal/orchestrator"
	"github.com/serome111/portwatch/internal/reputation"
	"github.com/serome111/portwatch/internal/rules"
)

// Server is the control-plane HTTP API.
type Server struct {
	token   string
	cfg     *config.Store
	orch    *orchestrator.Orchestrator
	store   *rules.Store
	alertsE *alerts.Engine
	enforce *enforce.Enforcer
	rep     *reputation.Cache
	log     zerolog.Logger
}

// New constructs a Server. The auth token is generated here; callers
// retrieve it via Token() to hand to local clients.
func New(cfg *config.Store, orch *orchestrator.Orchestrator, store *rules.Store, alertsE *alerts.Engine, enf *enforce.Enforcer, rep *reputation.Cache, log zerolog.Logger) (*Server, error) {
	tok, err := generateToken()
	if err != nil {
		return nil, err
	}
	return &Server{
		token:   tok,
		cfg:     cfg,
		orch:    orch,
		store:   store,
		alertsE: alertsE,
		enforce: enf,
		rep:     rep,
		log:     log,
	}, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Token returns this server's randomly-generated Bearer token.
func (s *Server) Token() string { return s.token }

// Router builds the mux.Router with every endpoint wired, gated by
// the auth middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.authMiddleware)

	r.HandleFunc("/status", s.handleStatus).Methods("GET")

	r.HandleFunc("/snapshot", s.handleSnapshot).Methods("GET")

	r.HandleFunc("/actions/stop", s.handleStop).Methods("POST")
	r.HandleFunc("/actions/kill", s.handleKill).Methods("POST")
	r.HandleFunc("/actions/kill_group", s.handleKillGroup).Methods("POST")
	r.HandleFunc("/actions/kill_tree", s.handleKillTree).Methods("POST")
	r.HandleFunc("/actions/set_paranoid", s.handleSetParanoid).Methods("POST")

	r.HandleFunc("/kills", s.handleKillsList).Methods("GET")
	r.HandleFunc("/kills/clear", s.handleKillsClear).Methods("POST")

	r.HandleFunc("/rules", s.handleRulesList).Methods("GET")
	r.HandleFunc("/rules", s.handleRulesCreate).Methods("POST")
	r.HandleFunc("/rules/{id}", s.handleRulesDelete).Methods("DELETE")

	r.HandleFunc("/alerts/pending", s.handleAlertsPending).Methods("GET")
	r.HandleFunc("/alerts/{id}/decide", s.handleAlertsDecide).Methods("POST")
	r.HandleFunc("/alerts/settings", s.handleSettingsGet).Methods("GET")
	r.HandleFunc("/alerts/settings", s.handleSettingsSet).Methods("POST")
	r.HandleFunc("/alerts/clear_cache", s.handleAlertsClearCache).Methods("POST")
	r.HandleFunc("/alerts/test", s.handleAlertsTest).Methods("POST")

	r.HandleFunc("/factory_reset", s.handleFactoryReset).Methods("POST")

	return r
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid or missing Bearer token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":             s.alertsE.Settings().Enabled,
		"paranoid":            s.orch.Paranoid(),
		"reputation_degraded": !s.rep.Enabled(),
		"time":                time.Now().Unix(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

type pidRequest struct {
	PID int32 `json:"pid"`
}

func decodePID(r *http.Request) (int32, error) {
	var req pidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return 0, err
	}
	return req.PID, nil
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	pid, err := decodePID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeResult(w, s.enforce.Stop(pid))
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	pid, err := decodePID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeResult(w, s.enforce.Kill(pid))
}

func (s *Server) handleKillGroup(w http.ResponseWriter, r *http.Request) {
	pid, err := decodePID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeResult(w, s.enforce.KillGroup(pid))
}

func (s *Server) handleKillTree(w http.ResponseWriter, r *http.Request) {
	pid, err := decodePID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.enforce.KillTree(pid))
}

func writeResult(w http.ResponseWriter, res enforce.Result) {
	status := http.StatusOK
	switch res.Reason {
	case enforce.ReasonNotFound:
		status = http.StatusNotFound
	case enforce.ReasonPermissionDenied, enforce.ReasonProtected:
		status = http.StatusForbidden
	case enforce.ReasonError:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}

func (s *Server) handleSetParanoid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paranoid bool `json:"paranoid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.orch.SetParanoid(req.Paranoid)
	s.cfg.SetParanoid(req.Paranoid)
	writeJSON(w, http.StatusOK, map[string]bool{"paranoid": req.Paranoid})
}

func (s *Server) handleKillsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.KillHistory())
}

func (s *Server) handleKillsClear(w http.ResponseWriter, r *http.Request) {
	s.orch.ClearKillHistory()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleRulesList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleRulesCreate(w http.ResponseWriter, r *http.Request) {
	var rule model.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	created, err := s.store.Create(rule)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleRulesDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.Delete(id); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleAlertsPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.alertsE.PendingAlerts())
}

func (s *Server) handleAlertsDecide(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Action  model.Action `json:"action"`
		Scope   model.Scope  `json:"scope"`
		Comment string       `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.alertsE.Decide(id, req.Action, req.Scope, req.Comment); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "decided"})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.alertsE.Settings())
}

func (s *Server) handleSettingsSet(w http.ResponseWriter, r *http.Request) {
	var settings model.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.alertsE.UpdateSettings(settings)
	s.cfg.SetSettings(settings)
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleAlertsClearCache(w http.ResponseWriter, r *http.Request) {
	s.alertsE.ClearCache()
	s.rep.ClearCache()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleAlertsTest(w http.ResponseWriter, r *http.Request) {
	row := model.ConnectionRow{
		ProcessName: "portwatch-test",
		Remote:      model.Endpoint{Addr: "203.0.113.1", Port: 31337},
		Level:       model.LevelHigh,
	}
	dec, err := s.alertsE.Process(row)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleFactoryReset(w http.ResponseWriter, r *http.Request) {
	s.alertsE.ClearCache()
	s.rep.ClearCache()
	s.orch.ClearKillHistory()
	s.alertsE.UpdateSettings(model.DefaultSettings())
	s.cfg.SetSettings(model.DefaultSettings())
	if err := s.cfg.Save(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
