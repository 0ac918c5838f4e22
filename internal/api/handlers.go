/**
 * @description
 * This file contains the HTTP handlers for the dispatch-service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/groomnet/dispatch-service/internal/app"
	"github.com/groomnet/dispatch-service/internal/domain"
	"github.com/groomnet/dispatch-service/internal/store"
)

// DispatchHandlers holds the application service that handlers will use.
type DispatchHandlers struct {
	service *app.Service
}

// NewDispatchHandlers creates a new instance of DispatchHandlers.
func NewDispatchHandlers(service *app.Service) *DispatchHandlers {
	return &DispatchHandlers{service: service}
}

type bookingResponse struct {
	Booking      *domain.Booking `json:"booking"`
	PaymentError string          `json:"payment_error,omitempty"`
}

type bookingDetailResponse struct {
	Booking *domain.Booking `json:"booking"`
	Payment *domain.Payment `json:"payment"`
}

type walletResponse struct {
	Wallet       *domain.Wallet             `json:"wallet"`
	Transactions []domain.WalletTransaction `json:"transactions"`
}

type cancellationResponse struct {
	Booking      *domain.Booking `json:"booking"`
	RefundAmount int64           `json:"refund_amount"`
	FineAmount   int64           `json:"fine_amount"`
}

func (h *DispatchHandlers) bookingIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	bookingID, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid booking ID")
		return uuid.Nil, false
	}
	return bookingID, true
}

func (h *DispatchHandlers) callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return uuid.Nil, false
	}
	return userID, true
}

// DispatchBookingHandler triggers a dispatch cycle for a pending instant
// booking. Normally the booking.created event drives this; the endpoint
// exists for the gateway's retry path.
func (h *DispatchHandlers) DispatchBookingHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingIDParam(w, r)
	if !ok {
		return
	}
	if err := h.service.StartDispatch(r.Context(), bookingID); err != nil {
		switch {
		case errors.Is(err, store.ErrBookingNotFound):
			h.writeError(w, http.StatusNotFound, "Booking not found")
		case errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusConflict, "Booking is not awaiting dispatch")
		default:
			log.Printf("level=error component=api endpoint=dispatch booking_id=%s err=%v", bookingID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not dispatch booking")
		}
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatching"})
}

// AcceptBookingHandler handles an agent's accept. Losing the race returns
// 409 so the agent app can show a "taken" notice.
func (h *DispatchHandlers) AcceptBookingHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingIDParam(w, r)
	if !ok {
		return
	}
	agentID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	booking, err := h.service.AcceptBooking(r.Context(), bookingID, agentID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrBookingConflict):
			h.writeError(w, http.StatusConflict, "This booking was already taken or has expired.")
			return
		case errors.Is(err, store.ErrBookingNotFound):
			h.writeError(w, http.StatusNotFound, "Booking not found")
			return
		case errors.Is(err, store.ErrInsufficientFunds), errors.Is(err, app.ErrPaymentProcessor):
			// The assignment stands; the payment is flagged for
			// reconciliation. Tell the agent what happened.
			h.writeJSON(w, http.StatusOK, bookingResponse{
				Booking:      booking,
				PaymentError: "Payment capture failed and is pending reconciliation.",
			})
			return
		default:
			log.Printf("level=error component=api endpoint=accept booking_id=%s agent_id=%s err=%v", bookingID, agentID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not accept booking")
			return
		}
	}
	h.writeJSON(w, http.StatusOK, bookingResponse{Booking: booking})
}

// RejectBookingHandler records an agent's pass and cascades the offer.
func (h *DispatchHandlers) RejectBookingHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingIDParam(w, r)
	if !ok {
		return
	}
	agentID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	if err := h.service.RejectBooking(r.Context(), bookingID, agentID); err != nil {
		switch {
		case errors.Is(err, store.ErrBookingNotFound):
			h.writeError(w, http.StatusNotFound, "Booking not found")
		case errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusConflict, "Booking is no longer open for offers")
		default:
			log.Printf("level=error component=api endpoint=reject booking_id=%s agent_id=%s err=%v", bookingID, agentID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not reject booking")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// TravelStatusHandler advances the assigned agent's travel status.
func (h *DispatchHandlers) TravelStatusHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingIDParam(w, r)
	if !ok {
		return
	}
	agentID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	var req struct {
		TravelStatus domain.TravelStatus `json:"travel_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !domain.ValidTravelStatus(req.TravelStatus) {
		h.writeError(w, http.StatusBadRequest, "Unknown travel status")
		return
	}

	booking, err := h.service.AdvanceTravel(r.Context(), bookingID, agentID, req.TravelStatus)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrBookingNotFound):
			h.writeError(w, http.StatusNotFound, "Booking not found")
		case errors.Is(err, store.ErrNotAssignedAgent):
			h.writeError(w, http.StatusForbidden, "You are not assigned to this booking")
		case errors.Is(err, store.ErrInvalidTravelMove):
			h.writeError(w, http.StatusConflict, "Travel status can only move forward")
		default:
			log.Printf("level=error component=api endpoint=travel_status booking_id=%s err=%v", bookingID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not update travel status")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, bookingResponse{Booking: booking})
}

// CancelBookingHandler handles a customer's emergency cancellation.
func (h *DispatchHandlers) CancelBookingHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingIDParam(w, r)
	if !ok {
		return
	}
	customerID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	outcome, err := h.service.CancelBooking(r.Context(), bookingID, customerID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrBookingNotFound):
			h.writeError(w, http.StatusNotFound, "Booking not found")
		case errors.Is(err, store.ErrCancellationBlocked):
			h.writeError(w, http.StatusConflict, "The agent is too close to cancel now.")
		case errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusConflict, "Booking was already completed or cancelled.")
		default:
			log.Printf("level=error component=api endpoint=cancel booking_id=%s err=%v", bookingID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not cancel booking")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, cancellationResponse{
		Booking:      outcome.Booking,
		RefundAmount: outcome.RefundAmount,
		FineAmount:   outcome.FineAmount,
	})
}

// CompleteBookingHandler marks the service done and releases the agent's share.
func (h *DispatchHandlers) CompleteBookingHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingIDParam(w, r)
	if !ok {
		return
	}
	agentID, ok := h.callerID(w, r)
	if !ok {
		return
	}

	booking, err := h.service.CompleteService(r.Context(), bookingID, agentID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrBookingNotFound):
			h.writeError(w, http.StatusNotFound, "Booking not found")
		case errors.Is(err, store.ErrNotAssignedAgent):
			h.writeError(w, http.StatusForbidden, "You are not assigned to this booking")
		case errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusConflict, "Booking cannot be completed in its current state")
		default:
			log.Printf("level=error component=api endpoint=complete booking_id=%s err=%v", bookingID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not complete booking")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, bookingResponse{Booking: booking})
}

// GetBookingHandler returns the booking and payment view. Only the booking's
// customer and its assigned agent may see it; everyone else gets the same
// 404 as a booking that does not exist.
func (h *DispatchHandlers) GetBookingHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingIDParam(w, r)
	if !ok {
		return
	}
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	booking, payment, err := h.service.BookingView(r.Context(), bookingID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrBookingNotFound), errors.Is(err, store.ErrPaymentNotFound):
			h.writeError(w, http.StatusNotFound, "Booking not found")
		default:
			log.Printf("level=error component=api endpoint=get_booking booking_id=%s err=%v", bookingID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not load booking")
		}
		return
	}
	if callerID != booking.CustomerID && (booking.AgentID == nil || callerID != *booking.AgentID) {
		h.writeError(w, http.StatusNotFound, "Booking not found")
		return
	}
	h.writeJSON(w, http.StatusOK, bookingDetailResponse{Booking: booking, Payment: payment})
}

// AgentWalletHandler returns the agent's wallet and recent ledger entries.
func (h *DispatchHandlers) AgentWalletHandler(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid agent ID")
		return
	}
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	if callerID != agentID {
		h.writeError(w, http.StatusForbidden, "You may only view your own wallet")
		return
	}

	wallet, txns, err := h.service.WalletOverview(r.Context(), domain.WalletAgent, &agentID, 50)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			h.writeError(w, http.StatusNotFound, "Wallet not found")
			return
		}
		log.Printf("level=error component=api endpoint=agent_wallet agent_id=%s err=%v", agentID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not load wallet")
		return
	}
	h.writeJSON(w, http.StatusOK, walletResponse{Wallet: wallet, Transactions: txns})
}

// CustomerWalletHandler returns the authenticated customer's wallet.
func (h *DispatchHandlers) CustomerWalletHandler(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	wallet, txns, err := h.service.WalletOverview(r.Context(), domain.WalletCustomer, &customerID, 50)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			h.writeError(w, http.StatusNotFound, "Wallet not found")
			return
		}
		log.Printf("level=error component=api endpoint=customer_wallet customer_id=%s err=%v", customerID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not load wallet")
		return
	}
	h.writeJSON(w, http.StatusOK, walletResponse{Wallet: wallet, Transactions: txns})
}

// PresenceHandler flips an agent's availability.
func (h *DispatchHandlers) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid agent ID")
		return
	}
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	if callerID != agentID {
		h.writeError(w, http.StatusForbidden, "You may only change your own presence")
		return
	}

	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.SetAvailability(r.Context(), agentID, req.Online); err != nil {
		switch {
		case errors.Is(err, app.ErrAgentBusy):
			h.writeError(w, http.StatusConflict, "Your current bookings do not allow this availability change.")
		case errors.Is(err, store.ErrAgentNotFound):
			h.writeError(w, http.StatusNotFound, "Agent not found")
		case errors.Is(err, store.ErrInvalidState):
			h.writeError(w, http.StatusForbidden, "Your account is not eligible to go online.")
		default:
			log.Printf("level=error component=api endpoint=presence agent_id=%s err=%v", agentID, err)
			h.writeError(w, http.StatusInternalServerError, "Could not update presence")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"online": req.Online})
}

// AgentStatusHandler reports presence and availability for an agent.
func (h *DispatchHandlers) AgentStatusHandler(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid agent ID")
		return
	}
	callerID, ok := h.callerID(w, r)
	if !ok {
		return
	}
	if callerID != agentID {
		h.writeError(w, http.StatusForbidden, "You may only view your own status")
		return
	}
	status, err := h.service.Availability(r.Context(), agentID)
	if err != nil {
		log.Printf("level=error component=api endpoint=agent_status agent_id=%s err=%v", agentID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not load agent status")
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *DispatchHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *DispatchHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
