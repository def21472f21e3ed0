package api

import (
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-core/internal/logging"
	"github.com/aaronwang/auction-core/internal/metrics"
	"github.com/aaronwang/auction-core/internal/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type bidRequest struct {
	Amount string `json:"amount" validate:"required"`
}

func (s *Server) handleBid(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	bidderID := bidderFrom(r.Context())

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body", nil)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "amount is required", nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "amount is not a decimal", nil)
		return
	}

	bid, err := s.engine.PlaceBid(r.Context(), auctionID, bidderID, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "bidId": bid.ID})
}

type stateResponse struct {
	Status            string `json:"status"`
	CurrentHighest    string `json:"currentHighest"`
	MinimumBid        string `json:"minimumBid"`
	HighestBidder     string `json:"highestBidder"`
	HighestBidderName string `json:"highestBidderName"`
	BidCount          int64  `json:"bidCount"`
	EndTime           string `json:"endTime"`
	WinnerID          string `json:"winnerId,omitempty"`
	SecondBidderID    string `json:"secondBidderId,omitempty"`
	SecondBidderName  string `json:"secondBidderName,omitempty"`
}

// handleState serves the merged view: the live projection when it is
// reachable and present, the durable record otherwise. The status always
// comes from the durable row; a projection kept alive for the payment
// fallback window still describes a COMPLETED auction.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auctionID := mux.Vars(r)["id"]

	a, err := s.durable.GetAuction(ctx, auctionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	view, err := s.breaker.Execute(func() (liveView, error) {
		st, ok, err := s.engine.LiveState(ctx, auctionID)
		if err != nil || !ok {
			return liveView{}, err
		}
		count, err := s.engine.BidCount(ctx, auctionID)
		if err != nil {
			return liveView{}, err
		}
		return liveView{state: st, ok: true, count: count}, nil
	})
	if err != nil {
		logging.Warn().Err(err).Str("auction", auctionID).Msg("live state read failed, serving durable view")
	}

	resp := stateResponse{
		Status:  string(a.Status),
		EndTime: a.EndTime.UTC().Format(time.RFC3339Nano),
	}
	var highest decimal.Decimal
	if err == nil && view.ok {
		highest = view.state.HighestBid
		resp.HighestBidder = view.state.HighestBidder
		resp.BidCount = view.count
		if !view.state.EndTime.IsZero() {
			resp.EndTime = view.state.EndTime.Format(time.RFC3339Nano)
		}
	} else {
		metrics.LiveStoreFallbackReads.Inc()
		highest = a.CurrentHighestBid
		if top, ok, err := s.durable.TopBid(ctx, auctionID); err == nil && ok {
			resp.HighestBidder = top.BidderID
		}
		if count, err := s.durable.CountBids(ctx, auctionID); err == nil {
			resp.BidCount = count
		}
	}

	resp.CurrentHighest = models.Fixed2(highest)
	resp.MinimumBid = models.Fixed2(models.MinimumNextBid(highest, a.MinIncrementPercent))
	resp.HighestBidderName = s.username(r, resp.HighestBidder)

	if a.Status == models.StatusCompleted {
		resp.WinnerID = a.WinnerID
		resp.SecondBidderID, resp.SecondBidderName = s.secondBidder(r, auctionID, a.WinnerID)
	}
	writeJSON(w, http.StatusOK, resp)
}

// secondBidder resolves the highest-amount bid held by someone other than
// the winner, from the durable history.
func (s *Server) secondBidder(r *http.Request, auctionID, winnerID string) (string, string) {
	bids, err := s.durable.ListBidsDescByTime(r.Context(), auctionID, 0)
	if err != nil {
		logging.Debug().Err(err).Str("auction", auctionID).Msg("second bidder lookup failed")
		return "", ""
	}
	var (
		best   decimal.Decimal
		bidder string
	)
	for _, b := range bids {
		if b.BidderID == winnerID || b.BidderID == "" {
			continue
		}
		if bidder == "" || b.Amount.GreaterThan(best) {
			best = b.Amount
			bidder = b.BidderID
		}
	}
	if bidder == "" {
		return "", ""
	}
	return bidder, s.username(r, bidder)
}

func (s *Server) username(r *http.Request, bidderID string) string {
	if bidderID == "" {
		return ""
	}
	name, err := s.durable.GetUsername(r.Context(), bidderID)
	if err != nil {
		logging.Debug().Err(err).Str("bidder", bidderID).Msg("username lookup failed")
		return ""
	}
	return name
}

type bidItem struct {
	BidderID   string `json:"bidderId"`
	BidderName string `json:"bidderName"`
	Amount     string `json:"amount"`
	TS         string `json:"ts"`
}

// handleBids lists recent bids, most-recent first. The live bid set answers
// while the projection exists; expired or COMPLETED auctions fall back to
// the durable history. Live envelopes come back in descending amount order,
// which coincides with recency because accepted amounts are monotonic.
func (s *Server) handleBids(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auctionID := mux.Vars(r)["id"]

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}

	items := []bidItem{}
	_, ok, err := s.engine.LiveState(ctx, auctionID)
	if err == nil && ok {
		envs, envErr := s.engine.RecentBids(ctx, auctionID, int64(limit))
		if envErr != nil {
			err = envErr
		} else {
			for _, env := range envs {
				items = append(items, bidItem{
					BidderID:   env.BidderID,
					BidderName: s.username(r, env.BidderID),
					Amount:     models.Fixed2(env.Amount),
					TS:         env.TS.UTC().Format(time.RFC3339Nano),
				})
			}
			writeJSON(w, http.StatusOK, items)
			return
		}
	}
	if err != nil {
		logging.Warn().Err(err).Str("auction", auctionID).Msg("live bids read failed, serving durable view")
	}

	metrics.LiveStoreFallbackReads.Inc()
	bids, err := s.durable.ListBidsDescByTime(ctx, auctionID, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	for _, b := range bids {
		items = append(items, bidItem{
			BidderID:   b.BidderID,
			BidderName: s.username(r, b.BidderID),
			Amount:     models.Fixed2(b.Amount),
			TS:         b.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// handlePay settles the caller's pending guarantee for the auction in the
// path. The id is the auction id; the payment row is found by
// (auction, bidder, GUARANTEE, PENDING).
func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	bidderID := bidderFrom(r.Context())

	p, err := s.engine.SettleGuarantee(r.Context(), auctionID, bidderID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "guarantee payment of " + models.Fixed2(p.Amount) + " recorded",
	})
}

func (s *Server) handleWSAuction(w http.ResponseWriter, r *http.Request) {
	s.manager.ServeTopic(w, r, models.TopicAuction(mux.Vars(r)["id"]))
}

func (s *Server) handleWSUpdates(w http.ResponseWriter, r *http.Request) {
	s.manager.ServeTopic(w, r, models.TopicUpdates)
}
