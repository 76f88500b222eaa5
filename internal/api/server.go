package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"powerdial/internal/auth"
	"powerdial/internal/config"
	"powerdial/internal/database"
	"powerdial/internal/engine"
	"powerdial/internal/placement"
	"powerdial/internal/telephony"
	"powerdial/internal/websocket"
)

// Server is the REST control surface for the orchestration engine.
type Server struct {
	config *config.Config
	repo   *database.Repository
	eng    *engine.Engine
	hub    *websocket.Hub
	placer *placement.Client
	phones *telephony.Adapter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, repo *database.Repository, eng *engine.Engine, hub *websocket.Hub, placer *placement.Client, phones *telephony.Adapter) *Server {
	return &Server{
		config: cfg,
		repo:   repo,
		eng:    eng,
		hub:    hub,
		placer: placer,
		phones: phones,
	}
}

// Start runs the HTTP server. Blocks.
func (s *Server) Start() error {
	addr := s.config.API.Address()
	log.Printf("[API] Starting server on %s", addr)

	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("/api/v1/login", s.handleLogin)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.hub.HandleWebSocket)

	// Protected endpoints
	protectedMux := http.NewServeMux()
	protectedMux.HandleFunc("/api/v1/campaign/start", s.handleCampaignStart)
	protectedMux.HandleFunc("/api/v1/campaign/stop", s.handleCampaignStop)
	protectedMux.HandleFunc("/api/v1/campaign/continue", s.handleCampaignContinue)
	protectedMux.HandleFunc("/api/v1/campaign/status", s.handleCampaignStatus)
	protectedMux.HandleFunc("/api/v1/call", s.handleCall)
	protectedMux.HandleFunc("/api/v1/dispositions", s.handleDisposition)
	protectedMux.HandleFunc("/api/v1/attempts", s.handleAttempts)
	protectedMux.HandleFunc("/api/v1/controls/digits", s.handleDigits)
	protectedMux.HandleFunc("/api/v1/controls/mute", s.handleMute)
	protectedMux.HandleFunc("/api/v1/controls/hangup", s.handleHangup)
	protected := auth.Middleware(protectedMux)

	mainHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.API.EnableCORS {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		switch {
		case r.URL.Path == "/api/v1/login", r.URL.Path == "/health", r.URL.Path == "/ws":
			mux.ServeHTTP(w, r)
		case strings.HasPrefix(r.URL.Path, "/api/v1/"):
			protected.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	return http.ListenAndServe(addr, mainHandler)
}

// --- Public handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"registered": s.phones.Registered(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.repo.GetUserByUsername(req.Username)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token generation failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"token": token, "role": user.Role})
}

// --- Campaign handlers ---

type contactPayload struct {
	ID      string `json:"id"`
	Number  string `json:"number"`
	Name    string `json:"name"`
	Company string `json:"company"`
}

func (s *Server) handleCampaignStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		Mode     string           `json:"mode"`
		Contacts []contactPayload `json:"contacts"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Contacts) == 0 {
		respondError(w, http.StatusBadRequest, "contacts required")
		return
	}

	contacts := make([]*engine.Contact, 0, len(req.Contacts))
	for _, c := range req.Contacts {
		if c.ID == "" || c.Number == "" {
			respondError(w, http.StatusBadRequest, "contact id and number required")
			return
		}
		contacts = append(contacts, &engine.Contact{
			ID:      c.ID,
			Number:  c.Number,
			Name:    c.Name,
			Company: c.Company,
		})
	}

	if err := s.eng.StartCampaign(r.Context(), contacts, engine.ParseDialMode(req.Mode)); err != nil {
		respondEngineError(w, err)
		return
	}
	s.respondSnapshot(w)
}

func (s *Server) handleCampaignStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.eng.StopCampaign(r.Context()); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleCampaignContinue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if err := s.eng.Continue(r.Context()); err != nil {
		respondEngineError(w, err)
		return
	}
	s.respondSnapshot(w)
}

func (s *Server) handleCampaignStatus(w http.ResponseWriter, r *http.Request) {
	s.respondSnapshot(w)
}

func (s *Server) respondSnapshot(w http.ResponseWriter) {
	snap, err := s.eng.Snapshot()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// --- Call handlers ---

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		Number string `json:"number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Number == "" {
		respondError(w, http.StatusBadRequest, "number required")
		return
	}

	if err := s.eng.DialSingle(r.Context(), req.Number); err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "dialing"})
}

func (s *Server) handleDisposition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		ContactID string `json:"contactId"`
		AttemptID string `json:"attemptId"`
		Result    string `json:"result"`
		Notes     string `json:"notes"`
		HandleID  string `json:"handleId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ContactID == "" || req.Result == "" {
		respondError(w, http.StatusBadRequest, "contactId and result required")
		return
	}

	// Persist upstream first, then locally, then release the engine slot;
	// a failed write must not silently clear the pending contact.
	if err := s.placer.RecordDisposition(r.Context(), req.ContactID, placement.Disposition{
		Result:   req.Result,
		Notes:    req.Notes,
		HandleID: req.HandleID,
	}); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if req.AttemptID != "" {
		if err := s.repo.RecordDisposition(req.AttemptID, req.Result, req.Notes); err != nil {
			log.Printf("[API] Local disposition write failed for attempt %s: %v", req.AttemptID, err)
		}
	}
	if err := s.eng.AcknowledgeDisposition(req.ContactID); err != nil {
		respondEngineError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	attempts, err := s.repo.RecentAttempts(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

// --- In-call control handlers ---

func (s *Server) handleDigits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HandleID string `json:"handleId"`
		Digits   string `json:"digits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HandleID == "" {
		respondError(w, http.StatusBadRequest, "handleId required")
		return
	}
	if err := s.phones.SendDigits(req.HandleID, req.Digits); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HandleID string `json:"handleId"`
		Muted    bool   `json:"muted"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HandleID == "" {
		respondError(w, http.StatusBadRequest, "handleId required")
		return
	}
	if err := s.phones.SetMuted(req.HandleID, req.Muted); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHangup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HandleID string `json:"handleId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HandleID == "" {
		respondError(w, http.StatusBadRequest, "handleId required")
		return
	}
	if err := s.phones.Disconnect(req.HandleID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnecting"})
}

// --- Helpers ---

func respondEngineError(w http.ResponseWriter, err error) {
	switch err {
	case engine.ErrChannelNotReady, engine.ErrNotRegistered:
		respondError(w, http.StatusServiceUnavailable, err.Error())
	case engine.ErrCampaignActive, engine.ErrDispositionsPending, engine.ErrNoCampaign:
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
