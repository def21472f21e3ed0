package livestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-core/internal/models"
)

// Memory implements Store in process for tests and single-node development.
// Admission uses exact decimal math, which lands on the same cent boundary
// as the script. TTLs are accepted but not simulated; Deactivate is the
// only way a projection goes away.
type Memory struct {
	mu       sync.Mutex
	auctions map[string]*liveAuction
}

type liveEntry struct {
	raw string
	env models.BidEnvelope
}

type liveAuction struct {
	state   models.LiveState
	highest decimal.Decimal
	// entries are kept ascending by (amount, raw) so the last element is
	// the head, mirroring how the sorted set orders equal scores.
	entries []liveEntry
}

// NewMemory returns an empty in-process live store.
func NewMemory() *Memory {
	return &Memory{auctions: make(map[string]*liveAuction)}
}

func (m *Memory) ensure(auctionID string) *liveAuction {
	la, ok := m.auctions[auctionID]
	if !ok {
		la = &liveAuction{}
		m.auctions[auctionID] = la
	}
	return la
}

func (la *liveAuction) insert(e liveEntry) {
	i := sort.Search(len(la.entries), func(i int) bool {
		c := la.entries[i].env.Amount.Cmp(e.env.Amount)
		if c != 0 {
			return c > 0
		}
		return la.entries[i].raw > e.raw
	})
	la.entries = append(la.entries, liveEntry{})
	copy(la.entries[i+1:], la.entries[i:])
	la.entries[i] = e
}

// Activate implements Store.
func (m *Memory) Activate(_ context.Context, a models.Auction, bids []models.Bid, _ time.Duration) error {
	la := &liveAuction{
		state: models.LiveState{
			Status:    a.Status,
			ItemID:    a.ItemID,
			StartTime: a.StartTime.UTC(),
			EndTime:   a.EndTime.UTC(),
		},
	}
	for _, b := range bids {
		env := envelopeFromBid(b)
		raw, err := models.EncodeBidEnvelope(env)
		if err != nil {
			return fmt.Errorf("encode bid envelope: %w", err)
		}
		la.insert(liveEntry{raw: raw, env: env})
	}
	if head, ok := la.head(); ok {
		la.highest = head.env.Amount
		la.state.HighestBid = head.env.Amount
		la.state.HighestBidder = head.env.BidderID
	}
	if a.CurrentHighestBid.GreaterThan(la.highest) {
		// Durable row ahead of the bid rows; see the Redis implementation.
		la.highest = a.CurrentHighestBid
		la.state.HighestBid = a.CurrentHighestBid
		la.state.HighestBidder = ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.auctions[a.ID] = la
	return nil
}

func (la *liveAuction) head() (liveEntry, bool) {
	if len(la.entries) == 0 {
		return liveEntry{}, false
	}
	return la.entries[len(la.entries)-1], true
}

// Exists implements Store.
func (m *Memory) Exists(_ context.Context, auctionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.auctions[auctionID]
	return ok, nil
}

// Deactivate implements Store.
func (m *Memory) Deactivate(_ context.Context, auctionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.auctions, auctionID)
	return nil
}

// State implements Store.
func (m *Memory) State(_ context.Context, auctionID string) (models.LiveState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	la, ok := m.auctions[auctionID]
	if !ok {
		return models.LiveState{}, false, nil
	}
	return la.state, true, nil
}

// CurrentHighest implements Store.
func (m *Memory) CurrentHighest(_ context.Context, auctionID string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	la, ok := m.auctions[auctionID]
	if !ok {
		return decimal.Zero, nil
	}
	return la.highest, nil
}

// HighestBidder implements Store.
func (m *Memory) HighestBidder(_ context.Context, auctionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	la, ok := m.auctions[auctionID]
	if !ok {
		return "", nil
	}
	return la.state.HighestBidder, nil
}

// RecentBids implements Store.
func (m *Memory) RecentBids(_ context.Context, auctionID string, n int64) ([]models.BidEnvelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	la, ok := m.auctions[auctionID]
	if !ok {
		return nil, nil
	}
	count := int64(len(la.entries))
	if n > 0 && n < count {
		count = n
	}
	envs := make([]models.BidEnvelope, 0, count)
	for i := len(la.entries) - 1; i >= 0 && int64(len(envs)) < count; i-- {
		envs = append(envs, la.entries[i].env)
	}
	return envs, nil
}

// BidCount implements Store.
func (m *Memory) BidCount(_ context.Context, auctionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	la, ok := m.auctions[auctionID]
	if !ok {
		return 0, nil
	}
	return int64(len(la.entries)), nil
}

// PlaceBid implements Store.
func (m *Memory) PlaceBid(_ context.Context, auctionID string, env models.BidEnvelope, basePrice, incrementPercent decimal.Decimal) (AdmissionResult, error) {
	raw, err := models.EncodeBidEnvelope(env)
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("encode bid envelope: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	la := m.ensure(auctionID)

	if la.highest.Sign() == 0 {
		if env.Amount.LessThan(basePrice) {
			return AdmissionResult{Verdict: VerdictBelowBase, BasePrice: basePrice}, nil
		}
	} else {
		minRequired := models.MinimumNextBid(la.highest, incrementPercent)
		if env.Amount.LessThan(minRequired) {
			return AdmissionResult{
				Verdict:         VerdictBelowIncrement,
				CurrentHighest:  la.highest,
				MinimumRequired: minRequired,
			}, nil
		}
	}

	la.insert(liveEntry{raw: raw, env: env})
	la.highest = env.Amount
	la.state.HighestBid = env.Amount
	la.state.HighestBidder = env.BidderID
	return AdmissionResult{Verdict: VerdictAccepted}, nil
}

// RemoveHead implements Store.
func (m *Memory) RemoveHead(_ context.Context, auctionID string) (models.BidEnvelope, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	la, ok := m.auctions[auctionID]
	if !ok || len(la.entries) == 0 {
		return models.BidEnvelope{}, false, nil
	}

	la.entries = la.entries[:len(la.entries)-1]
	next, ok := la.head()
	if !ok {
		la.highest = decimal.Zero
		la.state.HighestBid = decimal.Zero
		la.state.HighestBidder = ""
		return models.BidEnvelope{}, false, nil
	}
	la.highest = next.env.Amount
	la.state.HighestBid = next.env.Amount
	la.state.HighestBidder = next.env.BidderID
	return next.env, true, nil
}
