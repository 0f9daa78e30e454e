package refillagent

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/rxpilot/erx"
	"github.com/c360studio/rxpilot/refill"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// RegisterHTTPHandlers registers all refill-agent HTTP handlers under the
// given prefix. The prefix should be the path segment without a trailing
// slash (e.g. "api/rxpilot"). Handlers are registered as:
//
//	POST   <prefix>/turns
//	GET    <prefix>/sessions
//	GET    <prefix>/sessions/{id}
//	DELETE <prefix>/sessions/{id}
//	GET    <prefix>/orders
//	GET    <prefix>/orders/{id}
//	GET    <prefix>/healthz
//	GET    <prefix>/metrics
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	// Normalize: ensure leading slash and trailing slash.
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}

	mux.HandleFunc(prefix+"turns", c.handleTurns)
	mux.HandleFunc(prefix+"sessions", c.handleSessions)
	mux.HandleFunc(prefix+"sessions/", c.prefixed(prefix+"sessions/", c.handleSession))
	mux.HandleFunc(prefix+"orders", c.handleOrders)
	mux.HandleFunc(prefix+"orders/", c.prefixed(prefix+"orders/", c.handleOrder))
	mux.HandleFunc(prefix+"healthz", c.handleHealthz)
	mux.Handle(prefix+"metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
}

// prefixed strips the route prefix and passes the remainder as the id.
func (c *Component) prefixed(route string, handle func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, route)
		if id == "" || strings.Contains(id, "/") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		handle(w, r, id)
	}
}

// ----------------------------------------------------------------------------
// POST /api/rxpilot/turns
// ----------------------------------------------------------------------------

// TurnBody is the request for running one conversation turn.
type TurnBody struct {
	// SessionID continues an existing conversation. Empty starts a new one.
	SessionID string `json:"session_id,omitempty"`
	// PatientID identifies the patient. Required.
	PatientID string `json:"patient_id"`
	// Text is the patient's message. Required.
	Text string `json:"text"`
}

// handleTurns runs one patient message through the conversation and
// returns the full turn result.
func (c *Component) handleTurns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var body TurnBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := c.orchestrator.Turn(r.Context(), refill.TurnRequest{
		SessionID: body.SessionID,
		PatientID: body.PatientID,
		Text:      body.Text,
	})
	if err != nil {
		var vErr *refill.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusBadRequest)
			return
		}
		c.logger.Error("Turn failed", "error", err)
		http.Error(w, "Turn failed", http.StatusInternalServerError)
		return
	}

	c.updateLastActivity()
	writeJSON(w, http.StatusOK, result)
}

// ----------------------------------------------------------------------------
// GET /api/rxpilot/sessions
// ----------------------------------------------------------------------------

// SessionListResponse lists active session summaries.
type SessionListResponse struct {
	Sessions []refill.Summary `json:"sessions"`
	Count    int              `json:"count"`
}

func (c *Component) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summaries := c.sessions.List()
	writeJSON(w, http.StatusOK, SessionListResponse{
		Sessions: summaries,
		Count:    len(summaries),
	})
}

// ----------------------------------------------------------------------------
// GET|DELETE /api/rxpilot/sessions/{id}
// ----------------------------------------------------------------------------

// handleSession returns a session summary, or resets the session on DELETE.
// Reset keeps the session alive but returns the conversation to the start
// state; it is not a removal.
func (c *Component) handleSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	switch r.Method {
	case http.MethodGet:
		summary, err := c.sessionSummary(sessionID)
		if err != nil {
			c.writeSessionError(w, sessionID, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)

	case http.MethodDelete:
		summary, err := c.orchestrator.ResetSession(sessionID)
		if err != nil {
			c.writeSessionError(w, sessionID, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *Component) writeSessionError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, refill.ErrSessionNotFound) {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	c.logger.Error("Session lookup failed", "session_id", sessionID, "error", err)
	http.Error(w, "Session lookup failed", http.StatusInternalServerError)
}

// ----------------------------------------------------------------------------
// GET /api/rxpilot/orders
// ----------------------------------------------------------------------------

// OrderListResponse lists submitted orders, newest first.
type OrderListResponse struct {
	Orders []erx.OrderRecord `json:"orders"`
	Count  int               `json:"count"`
}

// handleOrders lists orders, optionally filtered by ?patient_id=.
func (c *Component) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orders := c.ledger.List(r.URL.Query().Get("patient_id"))
	writeJSON(w, http.StatusOK, OrderListResponse{
		Orders: orders,
		Count:  len(orders),
	})
}

// ----------------------------------------------------------------------------
// GET /api/rxpilot/orders/{id}
// ----------------------------------------------------------------------------

func (c *Component) handleOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	record, err := c.ledger.Track(orderID)
	if err != nil {
		if errors.Is(err, erx.ErrNotFound) {
			http.Error(w, "Order not found", http.StatusNotFound)
			return
		}
		c.logger.Error("Order lookup failed", "order_id", orderID, "error", err)
		http.Error(w, "Order lookup failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// ----------------------------------------------------------------------------
// GET /api/rxpilot/healthz
// ----------------------------------------------------------------------------

// HealthResponse reports liveness and working-set sizes.
type HealthResponse struct {
	Status          string    `json:"status"`
	ActiveSessions  int       `json:"active_sessions"`
	CatalogPatients int       `json:"catalog_patients"`
	Time            time.Time `json:"time"`
}

func (c *Component) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := c.Health()
	status := "ok"
	statusCode := http.StatusOK
	if !health.Healthy {
		status = "stopped"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, HealthResponse{
		Status:          status,
		ActiveSessions:  c.sessions.Len(),
		CatalogPatients: c.catalog.Stats().Patients,
		Time:            time.Now().UTC(),
	})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing to recover.
		_ = err
	}
}
