package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"confianza/internal/domain"
	"confianza/internal/lifecycle"
	"confianza/internal/storage"
	"confianza/internal/trading"
)

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := s.sessions.UserID(r)
	if err != nil {
		s.logger.WithError(err).Warn("unauthenticated status update")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req UpdateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("bad status update body")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.TradeID == "" || req.NewStatus == "" || req.UserRole == "" {
		s.logger.WithFields(logrus.Fields{
			"user_id":  userID,
			"trade_id": req.TradeID,
		}).Warn("status update missing fields")
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	// transitions run to completion even if the client goes away
	ctx := context.WithoutCancel(r.Context())
	trade, err := s.executor.Execute(ctx, trading.StatusRequest{
		TradeID:     req.TradeID,
		RequesterID: userID,
		NewStatus:   domain.TradeStatus(req.NewStatus),
		ClaimedRole: req.UserRole,
	})
	if err != nil {
		code, msg := statusUpdateError(err)
		writeError(w, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, UpdateStatusResponse{
		Success: true,
		Status:  trade.Status,
		Trade:   trade,
	})
}

// statusUpdateError maps an executor error to its wire code and message.
func statusUpdateError(err error) (int, string) {
	var invalid *lifecycle.InvalidTransitionError
	switch {
	case errors.Is(err, trading.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.As(err, &invalid):
		return http.StatusBadRequest, fmt.Sprintf("Invalid status transition from %s to %s", invalid.From, invalid.To)
	case errors.Is(err, trading.ErrInvalidRequest):
		return http.StatusBadRequest, "Missing required fields"
	case errors.Is(err, trading.ErrForbidden):
		return http.StatusForbidden, "Unauthorized"
	case errors.Is(err, trading.ErrNotFound):
		return http.StatusNotFound, "Trade not found"
	default:
		return http.StatusInternalServerError, "Failed to update trade"
	}
}

func (s *Server) handleOpenTrade(w http.ResponseWriter, r *http.Request) {
	userID, err := s.sessions.UserID(r)
	if err != nil {
		s.logger.WithError(err).Warn("unauthenticated trade creation")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req OpenTradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("bad trade creation body")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	trade, err := s.opener.Open(r.Context(), trading.OpenRequest{
		OfferID:     req.OfferID,
		RequesterID: userID,
		FiatAmount:  req.FiatAmount,
	})
	if err != nil {
		code, msg := openTradeError(err)
		writeError(w, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, OpenTradeResponse{Success: true, Trade: trade})
}

func openTradeError(err error) (int, string) {
	switch {
	case errors.Is(err, trading.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, trading.ErrOfferNotFound):
		return http.StatusNotFound, "Offer not found"
	case errors.Is(err, trading.ErrInvalidRequest):
		return http.StatusBadRequest, publicMessage(err)
	default:
		return http.StatusInternalServerError, "Failed to create trade"
	}
}

// publicMessage strips the taxonomy prefix from a request error.
func publicMessage(err error) string {
	msg := strings.TrimPrefix(err.Error(), trading.ErrInvalidRequest.Error()+": ")
	r, size := utf8.DecodeRuneInString(msg)
	if r == utf8.RuneError {
		return msg
	}
	return string(unicode.ToUpper(r)) + msg[size:]
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	trade, role, ok := s.participantTrade(w, r)
	if !ok {
		return
	}

	state, _ := lifecycle.State(trade.Status)
	progress, _ := lifecycle.Progress(trade.Status)

	writeJSON(w, http.StatusOK, TradeView{
		Trade:    trade,
		State:    state,
		Role:     role,
		Action:   lifecycle.PresentAction(trade.Status, role),
		Progress: progress,
	})
}

// participantTrade loads the trade named by the path and checks that the
// session user takes part in it. On failure the response is already written.
func (s *Server) participantTrade(w http.ResponseWriter, r *http.Request) (*domain.Trade, domain.Role, bool) {
	tradeID := r.PathValue("id")
	log := s.logger.WithField("trade_id", tradeID)

	userID, err := s.sessions.UserID(r)
	if err != nil {
		log.WithError(err).Warn("unauthenticated trade read")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return nil, "", false
	}
	log = log.WithField("user_id", userID)

	trade, err := s.trades.GetByID(r.Context(), tradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("trade not found")
			writeError(w, http.StatusNotFound, "Trade not found")
			return nil, "", false
		}
		log.WithError(err).Error("failed to load trade")
		writeError(w, http.StatusInternalServerError, "Failed to load trade")
		return nil, "", false
	}

	role, ok := trade.RoleOf(userID)
	if !ok {
		log.Warn("trade read by non-participant")
		writeError(w, http.StatusForbidden, "Unauthorized")
		return nil, "", false
	}
	return trade, role, true
}
