package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/console/internal/middleware"
	"github.com/kiwari-pos/console/internal/orderapi"
	"github.com/kiwari-pos/console/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SessionRegistry defines the session manager methods needed by session handlers.
// Satisfied by *service.SessionManager; narrow interface for testability.
type SessionRegistry interface {
	Create(token string) *service.OrderSession
	Get(id uuid.UUID) (*service.OrderSession, bool)
	Close(id uuid.UUID) bool
}

// SessionHandler exposes order edit sessions to the console.
type SessionHandler struct {
	sessions SessionRegistry
	log      logrus.FieldLogger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions SessionRegistry, log logrus.FieldLogger) *SessionHandler {
	return &SessionHandler{sessions: sessions, log: log.WithField("component", "session_handler")}
}

// RegisterRoutes registers session endpoints on the given Chi router.
// Expected to be mounted at /sessions
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Create)
	r.Route("/{sid}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Close)
		r.Put("/order", h.SelectOrder)
		r.Post("/items", h.AddItem)
		r.Put("/items/{itemId}", h.UpdateItem)
		r.Delete("/items/{itemId}", h.RemoveItem)
		r.Post("/confirm", h.Confirm)
		r.Post("/send", h.Send)
		r.Post("/cancel", h.Cancel)
		r.Post("/emails/confirmation", h.SendConfirmationEmail)
		r.Post("/emails/in-transit", h.SendInTransitEmail)
	})
}

// --- Request / Response types ---

type sessionResponse struct {
	ID uuid.UUID `json:"id"`
	service.State
	Warning string `json:"warning,omitempty"`
}

type addItemRequest struct {
	Product  orderapi.Product `json:"product"`
	Quantity int              `json:"quantity"`
}

// updateItemRequest leaves name and price unchanged when they are omitted.
type updateItemRequest struct {
	Name     string           `json:"name"`
	Quantity int              `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
}

type windowRequest struct {
	Start string `json:"delivery_window_start"`
	End   string `json:"delivery_window_end"`
}

// --- Handlers ---

// Create handles POST /sessions.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	s := h.sessions.Create(middleware.TokenFromContext(r.Context()))
	h.log.WithFields(logrus.Fields{"session_id": s.ID(), "user_id": claims.UserID}).Info("session opened")
	writeJSON(w, http.StatusCreated, sessionResponse{ID: s.ID(), State: s.Snapshot()})
}

// Get handles GET /sessions/{sid}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: s.ID(), State: s.Snapshot()})
}

// Close handles DELETE /sessions/{sid}.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}
	if !h.sessions.Close(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectOrder handles PUT /sessions/{sid}/order.
func (h *SessionHandler) SelectOrder(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var order orderapi.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if order.ID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "order id is required"})
		return
	}

	h.respond(w, s, s.SelectOrder(r.Context(), order))
}

// AddItem handles POST /sessions/{sid}/items.
func (h *SessionHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	h.respond(w, s, s.AddItem(r.Context(), req.Product, req.Quantity))
}

// UpdateItem handles PUT /sessions/{sid}/items/{itemId}.
func (h *SessionHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	item := orderapi.LineItem{ID: itemID, Name: req.Name, Quantity: req.Quantity}
	if req.Price != nil {
		item.Price = *req.Price
	} else if current, ok := findItem(s.Snapshot().Items, itemID); ok {
		item.Price = current.Price
	}

	h.respond(w, s, s.UpdateItem(r.Context(), item))
}

// RemoveItem handles DELETE /sessions/{sid}/items/{itemId}.
func (h *SessionHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	itemID, ok := itemIDParam(w, r)
	if !ok {
		return
	}

	h.respond(w, s, s.RemoveItem(r.Context(), itemID))
}

// Confirm handles POST /sessions/{sid}/confirm.
func (h *SessionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, s, s.Confirm(r.Context()))
}

// Send handles POST /sessions/{sid}/send.
func (h *SessionHandler) Send(w http.ResponseWriter, r *http.Request) {
	h.withWindow(w, r, (*service.OrderSession).Send)
}

// Cancel handles POST /sessions/{sid}/cancel.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, s, s.Cancel(r.Context()))
}

// SendConfirmationEmail handles POST /sessions/{sid}/emails/confirmation.
func (h *SessionHandler) SendConfirmationEmail(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respond(w, s, s.SendConfirmationEmail(r.Context()))
}

// SendInTransitEmail handles POST /sessions/{sid}/emails/in-transit.
func (h *SessionHandler) SendInTransitEmail(w http.ResponseWriter, r *http.Request) {
	h.withWindow(w, r, (*service.OrderSession).SendInTransitEmail)
}

// --- Helpers ---

func (h *SessionHandler) withWindow(w http.ResponseWriter, r *http.Request,
	fn func(*service.OrderSession, context.Context, *service.DeliveryWindow) error) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	var req windowRequest
	// The body is optional: pickup orders need no window.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	window, err := service.ParseWindow(req.Start, req.End)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": service.UserMessage(err)})
		return
	}

	h.respond(w, s, fn(s, r.Context(), window))
}

func (h *SessionHandler) session(w http.ResponseWriter, r *http.Request) (*service.OrderSession, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return nil, false
	}
	s, ok := h.sessions.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return nil, false
	}
	return s, true
}

func itemIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemId"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid item ID"})
		return 0, false
	}
	return id, true
}

func findItem(items []orderapi.LineItem, id int64) (orderapi.LineItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return orderapi.LineItem{}, false
}

// respond writes the session state, or maps err to a status code.
func (h *SessionHandler) respond(w http.ResponseWriter, s *service.OrderSession, err error) {
	resp := sessionResponse{ID: s.ID()}
	if err != nil {
		if !errors.Is(err, service.ErrReloadFailed) {
			writeJSON(w, errorStatus(err), map[string]string{"error": service.UserMessage(err)})
			return
		}
		resp.Warning = service.UserMessage(err)
	}
	resp.State = s.Snapshot()
	writeJSON(w, http.StatusOK, resp)
}

// errorStatus maps a session error to its HTTP status.
func errorStatus(err error) int {
	if _, ok := orderapi.AsAPIError(err); ok {
		return http.StatusUnprocessableEntity
	}
	switch {
	case service.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrBusy), errors.Is(err, service.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}
	return http.StatusBadGateway
}
