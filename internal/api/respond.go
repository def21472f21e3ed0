package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/aaronwang/auction-core/internal/auctionerrors"
	"github.com/aaronwang/auction-core/internal/logging"
	"github.com/aaronwang/auction-core/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug().Err(err).Msg("write response failed")
	}
}

// writeError emits the error body shape {"error", "code", ...extra}.
func writeError(w http.ResponseWriter, status int, code, message string, extra map[string]string) {
	body := map[string]string{"error": message, "code": code}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeEngineError maps a core error onto the HTTP surface.
func writeEngineError(w http.ResponseWriter, err error) {
	if rej, ok := auctionerrors.AsBidRejection(err); ok {
		extra := map[string]string{}
		switch rej.Code {
		case auctionerrors.BelowBasePrice:
			extra["basePrice"] = models.Fixed2(rej.BasePrice)
		case auctionerrors.BelowIncrement:
			extra["currentHighest"] = models.Fixed2(rej.CurrentHighest)
			extra["minimumRequired"] = models.Fixed2(rej.MinimumRequired)
		}
		writeError(w, http.StatusBadRequest, string(rej.Code), rej.Error(), extra)
		return
	}

	switch {
	case errors.Is(err, auctionerrors.ErrAuctionNotFound),
		errors.Is(err, auctionerrors.ErrItemNotFound),
		errors.Is(err, auctionerrors.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, auctionerrors.ErrPaymentExpired):
		writeError(w, http.StatusConflict, "PAYMENT_EXPIRED", err.Error(), nil)
	case errors.Is(err, auctionerrors.ErrConflict):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case auctionerrors.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "TRANSIENT_UNAVAILABLE",
			"store temporarily unavailable, retry shortly", nil)
	default:
		logging.Error().Err(err).Msg("unhandled request error")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
