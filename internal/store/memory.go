package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-core/internal/auctionerrors"
	"github.com/aaronwang/auction-core/internal/models"
)

// Memory is an in-process Store used by tests. Guard semantics match the
// Postgres implementation: replayed ids are no-ops and payment status
// transitions are compare-and-set on PENDING.
type Memory struct {
	mu       sync.Mutex
	auctions map[string]models.Auction
	items    map[string]models.Item
	bids     map[string]models.Bid
	payments map[string]models.Payment
	users    map[string]models.User
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		auctions: make(map[string]models.Auction),
		items:    make(map[string]models.Item),
		bids:     make(map[string]models.Bid),
		payments: make(map[string]models.Payment),
		users:    make(map[string]models.User),
	}
}

// GetAuction implements AuctionStore.
func (m *Memory) GetAuction(_ context.Context, id string) (models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return models.Auction{}, auctionerrors.ErrAuctionNotFound
	}
	return a, nil
}

// ListAuctionsByStatus implements AuctionStore.
func (m *Memory) ListAuctionsByStatus(_ context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Auction
	for _, a := range m.auctions {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

// SaveAuction implements AuctionStore.
func (m *Memory) SaveAuction(_ context.Context, a models.Auction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.UpdatedAt = time.Now().UTC()
	m.auctions[a.ID] = a
	return nil
}

// UpdateAuctionHead implements AuctionStore.
func (m *Memory) UpdateAuctionHead(_ context.Context, id string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[id]
	if !ok {
		return auctionerrors.ErrAuctionNotFound
	}
	a.CurrentHighestBid = amount
	a.UpdatedAt = time.Now().UTC()
	m.auctions[id] = a
	return nil
}

// CompleteAuction implements AuctionStore.
func (m *Memory) CompleteAuction(_ context.Context, a models.Auction, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.auctions[a.ID]
	if !ok {
		return auctionerrors.ErrAuctionNotFound
	}
	cur.Status = a.Status
	cur.WinnerID = a.WinnerID
	cur.CurrentHighestBid = a.CurrentHighestBid
	cur.UpdatedAt = time.Now().UTC()
	m.auctions[a.ID] = cur
	if p != nil {
		if _, exists := m.payments[p.ID]; !exists {
			m.payments[p.ID] = *p
		}
	}
	return nil
}

// ReassignWinner implements AuctionStore.
func (m *Memory) ReassignWinner(_ context.Context, auctionID, winnerID string, head decimal.Decimal, next *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return auctionerrors.ErrAuctionNotFound
	}
	a.WinnerID = winnerID
	a.CurrentHighestBid = head
	a.UpdatedAt = time.Now().UTC()
	m.auctions[auctionID] = a
	if next != nil {
		if _, exists := m.payments[next.ID]; !exists {
			m.payments[next.ID] = *next
		}
	}
	return nil
}

// GetItem implements ItemStore.
func (m *Memory) GetItem(_ context.Context, id string) (models.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return models.Item{}, auctionerrors.ErrItemNotFound
	}
	return item, nil
}

// SaveItem stores an item.
func (m *Memory) SaveItem(_ context.Context, item models.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

// AppendBid implements BidStore.
func (m *Memory) AppendBid(_ context.Context, b models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.bids[b.ID]; exists {
		return nil
	}
	m.bids[b.ID] = b
	return nil
}

func (m *Memory) bidsFor(auctionID string) []models.Bid {
	var out []models.Bid
	for _, b := range m.bids {
		if b.AuctionID == auctionID {
			out = append(out, b)
		}
	}
	return out
}

// ListBidsDescByTime implements BidStore.
func (m *Memory) ListBidsDescByTime(_ context.Context, auctionID string, limit int) ([]models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.bidsFor(auctionID)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Amount.GreaterThan(out[j].Amount)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TopBid implements BidStore.
func (m *Memory) TopBid(_ context.Context, auctionID string) (models.Bid, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bids := m.bidsFor(auctionID)
	if len(bids) == 0 {
		return models.Bid{}, false, nil
	}
	sort.Slice(bids, func(i, j int) bool {
		if !bids[i].Amount.Equal(bids[j].Amount) {
			return bids[i].Amount.GreaterThan(bids[j].Amount)
		}
		return bids[i].CreatedAt.After(bids[j].CreatedAt)
	})
	return bids[0], true, nil
}

// CountBids implements BidStore.
func (m *Memory) CountBids(_ context.Context, auctionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.bidsFor(auctionID))), nil
}

// SavePayment implements PaymentStore.
func (m *Memory) SavePayment(_ context.Context, p models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[p.ID]; exists {
		return nil
	}
	m.payments[p.ID] = p
	return nil
}

// GetPendingGuarantee implements PaymentStore.
func (m *Memory) GetPendingGuarantee(_ context.Context, auctionID, bidderID string) (models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		found models.Payment
		ok    bool
	)
	for _, p := range m.payments {
		if p.AuctionID == auctionID && p.BidderID == bidderID &&
			p.Type == models.PaymentTypeGuarantee && p.Status == models.PaymentPending {
			if !ok || p.CreatedAt.After(found.CreatedAt) {
				found = p
				ok = true
			}
		}
	}
	if !ok {
		return models.Payment{}, auctionerrors.ErrPaymentNotFound
	}
	return found, nil
}

// ListPendingGuaranteePayments implements PaymentStore.
func (m *Memory) ListPendingGuaranteePayments(_ context.Context) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.Type == models.PaymentTypeGuarantee && p.Status == models.PaymentPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueBy.Before(out[j].DueBy) })
	return out, nil
}

func (m *Memory) markPayment(id string, to models.PaymentStatus, paidAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return auctionerrors.ErrPaymentNotFound
	}
	if p.Status != models.PaymentPending {
		return fmt.Errorf("payment %s not PENDING: %w", id, auctionerrors.ErrConflict)
	}
	p.Status = to
	if paidAt != nil {
		t := paidAt.UTC()
		p.PaidAt = &t
	}
	m.payments[id] = p
	return nil
}

// MarkPaymentFailed implements PaymentStore.
func (m *Memory) MarkPaymentFailed(_ context.Context, id string) error {
	return m.markPayment(id, models.PaymentFailed, nil)
}

// MarkPaymentSucceeded implements PaymentStore.
func (m *Memory) MarkPaymentSucceeded(_ context.Context, id string, paidAt time.Time) error {
	return m.markPayment(id, models.PaymentSuccess, &paidAt)
}

// GetUsername implements UserStore.
func (m *Memory) GetUsername(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return "", nil
	}
	return u.Username, nil
}

// SaveUser stores a user.
func (m *Memory) SaveUser(_ context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// Payment returns a payment by id for test assertions.
func (m *Memory) Payment(id string) (models.Payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	return p, ok
}
