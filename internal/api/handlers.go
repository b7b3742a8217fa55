package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if len(req.BindingIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "binding_ids is required"})
		return
	}

	cfg := domain.WorkerConfig{
		IntervalMs:        req.IntervalMs,
		MaxRetryStatus:    req.MaxRetryStatus,
		CooldownOnErrorMs: req.CooldownOnErrorMs,
		ProductID:         req.ProductID,
		Email:             req.Email,
		LimitHarga:        req.LimitHarga,
	}
	if cfg.IntervalMs == 0 {
		cfg.IntervalMs = s.defaults.WorkerIntervalMsDefault
	}
	if cfg.MaxRetryStatus == 0 {
		cfg.MaxRetryStatus = 2
	}
	if cfg.CooldownOnErrorMs == 0 {
		cfg.CooldownOnErrorMs = 1500
	}

	items := s.control.Start(r.Context(), req.BindingIDs, cfg)
	writeJSON(w, http.StatusOK, controlResponse{Action: "start", Items: items})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeControl(w, r)
	if !ok {
		return
	}
	items := s.control.Pause(r.Context(), req.BindingIDs, req.Reason)
	writeJSON(w, http.StatusOK, controlResponse{Action: "pause", Items: items})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeControl(w, r)
	if !ok {
		return
	}
	items := s.control.Resume(r.Context(), req.BindingIDs)
	writeJSON(w, http.StatusOK, controlResponse{Action: "resume", Items: items})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeControl(w, r)
	if !ok {
		return
	}
	items := s.control.Stop(r.Context(), req.BindingIDs, req.Reason)
	writeJSON(w, http.StatusOK, controlResponse{Action: "stop", Items: items})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeControl(w, r)
	if !ok {
		return
	}
	items := s.control.Status(r.Context(), req.BindingIDs)
	writeJSON(w, http.StatusOK, statusResponse{Items: items})
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	res, err := s.control.Monitor(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSubmitOtp(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.BindingID == "" || req.Otp == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "binding_id and otp are required"})
		return
	}
	accepted, err := s.mailbox.Offer(r.Context(), req.BindingID, req.Otp)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	resp := otpResponse{Accepted: accepted}
	if !accepted {
		resp.Reason = "otp_already_pending"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ports.TransactionFilter{
		BindingID: q.Get("binding_id"),
		Status:    domain.TransactionStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}
	trxs, err := s.store.ListTransactions(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if trxs == nil {
		trxs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": trxs})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeControl(w http.ResponseWriter, r *http.Request) (*controlRequest, bool) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, false
	}
	if len(req.BindingIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "binding_ids is required"})
		return nil, false
	}
	return &req, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
