package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/rl1809/vending-fleet/internal/adapter/auth"
	"github.com/rl1809/vending-fleet/internal/core/domain"
	"github.com/rl1809/vending-fleet/internal/core/service"
	"github.com/rl1809/vending-fleet/internal/logger"
	"github.com/rl1809/vending-fleet/internal/port"
)

// HTTPHandler exposes one machine's purchase and admin flows.
type HTTPHandler struct {
	machine *service.MachineService
	auth    port.Authenticator
	tokens  *auth.TokenIssuer
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type InsertRequest struct {
	Amount int `json:"amount"`
}

type PurchaseRequest struct {
	Index int `json:"index"`
}

type PasswordRequest struct {
	Password string `json:"password"`
}

type EditItemRequest struct {
	Name  string `json:"name"`
	Price int    `json:"price"`
	Stock int    `json:"stock"`
}

type RestockRequest struct {
	Amount int `json:"amount"`
}

func NewHTTPHandler(machine *service.MachineService, authenticator port.Authenticator, tokens *auth.TokenIssuer) *HTTPHandler {
	return &HTTPHandler{machine: machine, auth: authenticator, tokens: tokens}
}

// Router builds the route table wrapped with CORS and request logging.
func (h *HTTPHandler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger)

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/inventory", h.Inventory).Methods(http.MethodGet)
	api.HandleFunc("/purchase", h.Purchase).Methods(http.MethodPost)
	api.HandleFunc("/money", h.Money).Methods(http.MethodGet)
	api.HandleFunc("/money/insert", h.Insert).Methods(http.MethodPost)
	api.HandleFunc("/money/change", h.Change).Methods(http.MethodPost)
	api.HandleFunc("/money/refund", h.Refund).Methods(http.MethodPost)
	api.HandleFunc("/warnings", h.Warnings).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	admin.HandleFunc("/password", h.adminOnly(h.ChangePassword)).Methods(http.MethodPost)
	admin.HandleFunc("/collect", h.adminOnly(h.Collect)).Methods(http.MethodPost)
	admin.HandleFunc("/items/{index:[0-9]+}", h.adminOnly(h.EditItem)).Methods(http.MethodPut)
	admin.HandleFunc("/items/{index:[0-9]+}/restock", h.adminOnly(h.RestockItem)).Methods(http.MethodPost)
	admin.HandleFunc("/sales", h.adminOnly(h.Sales)).Methods(http.MethodGet)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "machine": h.machine.MachineID()})
}

// ─── Customer ───────────────────────────────────────────────────────────────

func (h *HTTPHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.machine.Inventory()})
}

func (h *HTTPHandler) Insert(w http.ResponseWriter, r *http.Request) {
	var req InsertRequest
	if !decode(w, r, &req) {
		return
	}

	balance, err := h.machine.Insert(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]int{"balance": balance}})
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return
	}

	item, err := h.machine.Purchase(req.Index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "dispensed " + item.Name,
		Data:    item,
	})
}

func (h *HTTPHandler) Money(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.machine.MoneyStatus()})
}

func (h *HTTPHandler) Change(w http.ResponseWriter, r *http.Request) {
	change, err := h.machine.Change()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: change})
}

func (h *HTTPHandler) Refund(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.machine.Refund()})
}

func (h *HTTPHandler) Warnings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.machine.Warnings()})
}

// ─── Admin ──────────────────────────────────────────────────────────────────

func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !decode(w, r, &req) {
		return
	}

	if !h.auth.CheckPassword(req.Password) {
		logger.Logger.Warn().Str("remote", r.RemoteAddr).Msg("admin login rejected")
		writeError(w, domain.ErrUnauthorized)
		return
	}

	token, expires, err := h.tokens.Issue()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"token":      token,
			"expires_at": expires.UTC().Format(time.RFC3339),
		},
	})
}

func (h *HTTPHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.auth.ChangePassword(req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "password changed"})
}

func (h *HTTPHandler) Collect(w http.ResponseWriter, r *http.Request) {
	total := h.machine.Collect()
	writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]int{"collected": total}})
}

func (h *HTTPHandler) EditItem(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])

	var req EditItemRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.machine.Edit(r.Context(), index, req.Name, req.Price, req.Stock); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "edit applied"})
}

func (h *HTTPHandler) RestockItem(w http.ResponseWriter, r *http.Request) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])

	var req RestockRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.machine.Restock(r.Context(), index, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Message: "restock applied"})
}

func (h *HTTPHandler) Sales(w http.ResponseWriter, r *http.Request) {
	view := domain.SalesView(r.URL.Query().Get("view"))
	if view == "" {
		view = domain.SalesViewDaily
	}

	sales, err := h.machine.SalesView(r.Context(), view)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: sales})
}

// adminOnly requires a valid Bearer token issued by this machine.
func (h *HTTPHandler) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		if _, err := h.tokens.Verify(token); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{
			Success: false,
			Error:   "invalid request body",
		})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSoldOut):
		return http.StatusGone
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientChange):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsertRejected),
		errors.Is(err, domain.ErrUnknownDenomination),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrNegativeStock),
		errors.Is(err, domain.ErrWeakPassword):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnsupportedSalesView),
		errors.Is(err, domain.ErrMalformedMessage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Logger.Error().Err(err).Msg("request failed")
		message = "internal error"
	}
	writeJSON(w, status, Response{Success: false, Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
