package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nyashahama/email-sequence-backend/internal/contacts"
	"github.com/nyashahama/email-sequence-backend/internal/order"
	"github.com/nyashahama/email-sequence-backend/internal/payment"
)

// ─── POST /api/checkout ───────────────────────────────────────────────────────

// createCheckoutRequest accepts the contact list either as positional rows
// or as keyed records, the shape the browser wizard holds after parsing a CSV.
// Records win when both are sent.
type createCheckoutRequest struct {
	Email            string              `json:"email"`
	Template         string              `json:"template"`
	Headers          []string            `json:"headers"`
	Rows             [][]string          `json:"rows,omitempty"`
	Records          []map[string]string `json:"records,omitempty"`
	EmailsPerContact int                 `json:"emailsPerContact"`
	AmountCents      int64               `json:"amountCents"`
}

type createCheckoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
	OrderID     string `json:"orderId"`
}

// handleCreateCheckout stores the order in pending_payment and returns the
// hosted payment page the browser should redirect to.
func (s *Server) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if !decode(w, r, &req) {
		return
	}

	rows := req.Rows
	if len(req.Records) > 0 {
		list, err := contacts.FromRecords(req.Headers, req.Records)
		if err != nil {
			respondErr(w, http.StatusBadRequest, fmt.Sprintf("%v: %v", payment.ErrInvalidOrder, err))
			return
		}
		rows = list.Rows
	}

	intent, err := s.payments.CreateIntent(r.Context(), payment.CreateIntentParams{
		Email:            req.Email,
		Template:         req.Template,
		Headers:          req.Headers,
		Rows:             rows,
		EmailsPerContact: req.EmailsPerContact,
		AmountCents:      req.AmountCents,
	})
	switch {
	case errors.Is(err, payment.ErrInvalidOrder):
		respondErr(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, payment.ErrPaymentSession):
		s.logger.Error("checkout: payment provider refused session", "error", err, logField(r))
		respondErr(w, http.StatusBadGateway, "could not start checkout, please try again")
		return
	case err != nil:
		s.respondInternalErr(w, r, fmt.Errorf("create intent: %w", err))
		return
	}

	respond(w, http.StatusOK, createCheckoutResponse{
		CheckoutURL: intent.CheckoutURL,
		SessionID:   intent.SessionID,
		OrderID:     intent.OrderID.String(),
	})
}

// ─── GET /api/orders/:sessionID ───────────────────────────────────────────────

type getOrderResponse struct {
	// Order is null when no order carries the session id.
	Order *order.Summary `json:"order"`
}

// handleGetOrder backs the thank-you page, which polls it with the session id
// Stripe appended to the success URL.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	summary, err := s.payments.Lookup(r.Context(), chi.URLParam(r, "sessionID"))
	if errors.Is(err, payment.ErrOrderNotFound) {
		respond(w, http.StatusOK, getOrderResponse{})
		return
	}
	if err != nil {
		s.respondInternalErr(w, r, fmt.Errorf("lookup order: %w", err))
		return
	}
	respond(w, http.StatusOK, getOrderResponse{Order: &summary})
}

// ─── GET /api/orders/:sessionID/artifact ──────────────────────────────────────

// handleGetArtifact serves the finished CSV as a download.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	art, err := s.payments.Artifact(r.Context(), chi.URLParam(r, "sessionID"))
	switch {
	case errors.Is(err, payment.ErrOrderNotFound):
		respondErr(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, payment.ErrArtifactNotReady):
		respondErr(w, http.StatusConflict, "results are not ready yet")
		return
	case err != nil:
		s.respondInternalErr(w, r, fmt.Errorf("get artifact: %w", err))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(art.CSV)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.CSV)
}
