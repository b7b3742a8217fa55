package api

import (
	"github.com/hasanmaki/mkit-idv-next/internal/orchestrator"
)

type startRequest struct {
	BindingIDs        []string `json:"binding_ids"`
	ProductID         string   `json:"product_id"`
	Email             string   `json:"email"`
	LimitHarga        int      `json:"limit_harga"`
	IntervalMs        int      `json:"interval_ms"`
	MaxRetryStatus    int      `json:"max_retry_status"`
	CooldownOnErrorMs int      `json:"cooldown_on_error_ms"`
}

type controlRequest struct {
	BindingIDs []string `json:"binding_ids"`
	Reason     string   `json:"reason,omitempty"`
}

type controlResponse struct {
	Action string                    `json:"action"`
	Items  []orchestrator.ItemResult `json:"items"`
}

type statusResponse struct {
	Items []orchestrator.StatusItem `json:"items"`
}

type otpRequest struct {
	BindingID string `json:"binding_id"`
	Otp       string `json:"otp"`
}

type otpResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
