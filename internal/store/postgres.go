package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-core/internal/auctionerrors"
	"github.com/aaronwang/auction-core/internal/models"
)

// queryTimeout caps every durable-store round-trip.
const queryTimeout = 2 * time.Second

// Postgres implements Store over database/sql with the lib/pq driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and pings the durable store connection.
func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open durable store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping durable store: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// InitSchema creates the tables and indexes the core reads and writes.
func (s *Postgres) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS items (
		id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		base_price DECIMAL(12, 2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS auctions (
		id VARCHAR(64) PRIMARY KEY,
		item_id VARCHAR(64) NOT NULL REFERENCES items(id),
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		min_increment_percent DECIMAL(5, 2) NOT NULL DEFAULT 10.00,
		current_highest_bid DECIMAL(12, 2),
		winner_id VARCHAR(64),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS bids (
		id VARCHAR(64) PRIMARY KEY,
		auction_id VARCHAR(64) NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		bidder_id VARCHAR(64) NOT NULL,
		amount DECIMAL(12, 2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS payments (
		id VARCHAR(64) PRIMARY KEY,
		auction_id VARCHAR(64) NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		bidder_id VARCHAR(64) NOT NULL,
		amount DECIMAL(12, 2) NOT NULL,
		payment_type VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		due_by TIMESTAMPTZ NOT NULL,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_auctions_status ON auctions(status);
	CREATE INDEX IF NOT EXISTS idx_bids_auction_amount ON bids(auction_id, amount DESC);
	CREATE INDEX IF NOT EXISTS idx_bids_auction_created ON bids(auction_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_payments_status_due ON payments(status, due_by);
	CREATE INDEX IF NOT EXISTS idx_payments_auction_bidder ON payments(auction_id, bidder_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

// durableErr tags an I/O failure so callers can branch on the transient
// error kind while keeping the cause in the message.
func durableErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(auctionerrors.ErrDurableStoreUnavailable, err))
}

const auctionColumns = `id, item_id, start_time, end_time, status, min_increment_percent,
	current_highest_bid, winner_id, created_at, updated_at`

func scanAuction(row interface{ Scan(...any) error }) (models.Auction, error) {
	var (
		a         models.Auction
		status    string
		increment string
		highest   sql.NullString
		winner    sql.NullString
	)
	err := row.Scan(&a.ID, &a.ItemID, &a.StartTime, &a.EndTime, &status, &increment,
		&highest, &winner, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return models.Auction{}, err
	}

	a.Status = models.AuctionStatus(status)
	if a.MinIncrementPercent, err = decimal.NewFromString(increment); err != nil {
		return models.Auction{}, fmt.Errorf("parse min_increment_percent %q: %w", increment, err)
	}
	if highest.Valid {
		if a.CurrentHighestBid, err = decimal.NewFromString(highest.String); err != nil {
			return models.Auction{}, fmt.Errorf("parse current_highest_bid %q: %w", highest.String, err)
		}
	}
	if winner.Valid {
		a.WinnerID = winner.String
	}
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// nullDecimal maps a zero amount to NULL, everything else to a fixed string.
func nullDecimal(d decimal.Decimal) any {
	if d.Sign() <= 0 {
		return nil
	}
	return d.StringFixed(2)
}

// nullString maps "" to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetAuction implements AuctionStore.
func (s *Postgres) GetAuction(ctx context.Context, id string) (models.Auction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Auction{}, auctionerrors.ErrAuctionNotFound
	}
	if err != nil {
		return models.Auction{}, durableErr("get auction", err)
	}
	return a, nil
}

// ListAuctionsByStatus implements AuctionStore.
func (s *Postgres) ListAuctionsByStatus(ctx context.Context, status models.AuctionStatus) ([]models.Auction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status = $1 ORDER BY end_time`, string(status))
	if err != nil {
		return nil, durableErr("list auctions", err)
	}
	defer rows.Close()

	var auctions []models.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, durableErr("scan auction", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, durableErr("list auctions", err)
	}
	return auctions, nil
}

// SaveAuction implements AuctionStore with an upsert; last write wins.
func (s *Postgres) SaveAuction(ctx context.Context, a models.Auction) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auctions (id, item_id, start_time, end_time, status,
			min_increment_percent, current_highest_bid, winner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_highest_bid = EXCLUDED.current_highest_bid,
			winner_id = EXCLUDED.winner_id,
			updated_at = NOW()`,
		a.ID, a.ItemID, a.StartTime.UTC(), a.EndTime.UTC(), string(a.Status),
		a.MinIncrementPercent.StringFixed(2), nullDecimal(a.CurrentHighestBid),
		nullString(a.WinnerID), a.CreatedAt.UTC())
	if err != nil {
		return durableErr("save auction", err)
	}
	return nil
}

// UpdateAuctionHead implements AuctionStore.
func (s *Postgres) UpdateAuctionHead(ctx context.Context, id string, amount decimal.Decimal) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE auctions SET current_highest_bid = $1, updated_at = NOW() WHERE id = $2`,
		amount.StringFixed(2), id)
	if err != nil {
		return durableErr("update auction head", err)
	}
	return nil
}

// CompleteAuction implements AuctionStore. Status, winner, and head land
// with the guarantee payment in a single transaction.
func (s *Postgres) CompleteAuction(ctx context.Context, a models.Auction, p *models.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return durableErr("begin close transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE auctions SET status = $1, winner_id = $2, current_highest_bid = $3, updated_at = NOW()
		WHERE id = $4`,
		string(a.Status), nullString(a.WinnerID), nullDecimal(a.CurrentHighestBid), a.ID)
	if err != nil {
		return durableErr("complete auction", err)
	}

	if p != nil {
		if err := insertPayment(ctx, tx, *p); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return durableErr("commit close transaction", err)
	}
	return nil
}

// ReassignWinner implements AuctionStore. Winner/head rewrite and the
// replacement payment land in a single transaction.
func (s *Postgres) ReassignWinner(ctx context.Context, auctionID, winnerID string, head decimal.Decimal, next *models.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return durableErr("begin fallback transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE auctions SET winner_id = $1, current_highest_bid = $2, updated_at = NOW() WHERE id = $3`,
		nullString(winnerID), nullDecimal(head), auctionID)
	if err != nil {
		return durableErr("reassign winner", err)
	}

	if next != nil {
		if err := insertPayment(ctx, tx, *next); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return durableErr("commit fallback transaction", err)
	}
	return nil
}

// GetItem implements ItemStore.
func (s *Postgres) GetItem(ctx context.Context, id string) (models.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		item  models.Item
		price string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, base_price FROM items WHERE id = $1`, id).
		Scan(&item.ID, &item.Name, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Item{}, auctionerrors.ErrItemNotFound
	}
	if err != nil {
		return models.Item{}, durableErr("get item", err)
	}
	if item.BasePrice, err = decimal.NewFromString(price); err != nil {
		return models.Item{}, fmt.Errorf("parse base_price %q: %w", price, err)
	}
	return item, nil
}

// SaveItem upserts an item row. Used by seeding, not by the core paths.
func (s *Postgres) SaveItem(ctx context.Context, item models.Item) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, name, base_price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`,
		item.ID, item.Name, item.BasePrice.StringFixed(2))
	if err != nil {
		return durableErr("save item", err)
	}
	return nil
}

// AppendBid implements BidStore. Replays of the same bid id are no-ops.
func (s *Postgres) AppendBid(ctx context.Context, b models.Bid) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bids (id, auction_id, bidder_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		b.ID, b.AuctionID, b.BidderID, b.Amount.StringFixed(2), b.CreatedAt.UTC())
	if err != nil {
		return durableErr("append bid", err)
	}
	return nil
}

func scanBid(row interface{ Scan(...any) error }) (models.Bid, error) {
	var (
		b      models.Bid
		amount string
	)
	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amount, &b.CreatedAt); err != nil {
		return models.Bid{}, err
	}
	var err error
	if b.Amount, err = decimal.NewFromString(amount); err != nil {
		return models.Bid{}, fmt.Errorf("parse bid amount %q: %w", amount, err)
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

// ListBidsDescByTime implements BidStore.
func (s *Postgres) ListBidsDescByTime(ctx context.Context, auctionID string, limit int) ([]models.Bid, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT id, auction_id, bidder_id, amount, created_at
		FROM bids WHERE auction_id = $1 ORDER BY created_at DESC, amount DESC`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+` LIMIT $2`, auctionID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query, auctionID)
	}
	if err != nil {
		return nil, durableErr("list bids", err)
	}
	defer rows.Close()

	var bids []models.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, durableErr("scan bid", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, durableErr("list bids", err)
	}
	return bids, nil
}

// TopBid implements BidStore.
func (s *Postgres) TopBid(ctx context.Context, auctionID string) (models.Bid, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, auction_id, bidder_id, amount, created_at
		FROM bids WHERE auction_id = $1
		ORDER BY amount DESC, created_at DESC LIMIT 1`, auctionID)
	b, err := scanBid(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Bid{}, false, nil
	}
	if err != nil {
		return models.Bid{}, false, durableErr("top bid", err)
	}
	return b, true, nil
}

// CountBids implements BidStore.
func (s *Postgres) CountBids(ctx context.Context, auctionID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID).Scan(&n)
	if err != nil {
		return 0, durableErr("count bids", err)
	}
	return n, nil
}

func insertPayment(ctx context.Context, tx *sql.Tx, p models.Payment) error {
	var paidAt any
	if p.PaidAt != nil {
		paidAt = p.PaidAt.UTC()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, auction_id, bidder_id, amount, payment_type, status, due_by, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.AuctionID, p.BidderID, p.Amount.StringFixed(2), string(p.Type),
		string(p.Status), p.DueBy.UTC(), paidAt, p.CreatedAt.UTC())
	if err != nil {
		return durableErr("insert payment", err)
	}
	return nil
}

// SavePayment implements PaymentStore.
func (s *Postgres) SavePayment(ctx context.Context, p models.Payment) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return durableErr("begin save payment", err)
	}
	defer tx.Rollback()

	if err := insertPayment(ctx, tx, p); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return durableErr("commit save payment", err)
	}
	return nil
}

func scanPayment(row interface{ Scan(...any) error }) (models.Payment, error) {
	var (
		p      models.Payment
		amount string
		ptype  string
		status string
		paidAt sql.NullTime
	)
	err := row.Scan(&p.ID, &p.AuctionID, &p.BidderID, &amount, &ptype, &status,
		&p.DueBy, &paidAt, &p.CreatedAt)
	if err != nil {
		return models.Payment{}, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return models.Payment{}, fmt.Errorf("parse payment amount %q: %w", amount, err)
	}
	p.Type = models.PaymentType(ptype)
	p.Status = models.PaymentStatus(status)
	p.DueBy = p.DueBy.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		p.PaidAt = &t
	}
	return p, nil
}

// GetPendingGuarantee implements PaymentStore.
func (s *Postgres) GetPendingGuarantee(ctx context.Context, auctionID, bidderID string) (models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, auction_id, bidder_id, amount, payment_type, status, due_by, paid_at, created_at
		FROM payments
		WHERE auction_id = $1 AND bidder_id = $2 AND payment_type = $3 AND status = $4
		ORDER BY created_at DESC LIMIT 1`,
		auctionID, bidderID, string(models.PaymentTypeGuarantee), string(models.PaymentPending))
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Payment{}, auctionerrors.ErrPaymentNotFound
	}
	if err != nil {
		return models.Payment{}, durableErr("get pending guarantee", err)
	}
	return p, nil
}

// ListPendingGuaranteePayments implements PaymentStore.
func (s *Postgres) ListPendingGuaranteePayments(ctx context.Context) ([]models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, auction_id, bidder_id, amount, payment_type, status, due_by, paid_at, created_at
		FROM payments
		WHERE payment_type = $1 AND status = $2
		ORDER BY due_by`,
		string(models.PaymentTypeGuarantee), string(models.PaymentPending))
	if err != nil {
		return nil, durableErr("list pending guarantees", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, durableErr("scan payment", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, durableErr("list pending guarantees", err)
	}
	return payments, nil
}

// markPayment applies a guarded status transition; zero rows affected means
// a concurrent writer already moved the payment out of PENDING.
func (s *Postgres) markPayment(ctx context.Context, id string, to models.PaymentStatus, paidAt any) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments SET status = $1, paid_at = COALESCE($2, paid_at)
		WHERE id = $3 AND status = $4`,
		string(to), paidAt, id, string(models.PaymentPending))
	if err != nil {
		return durableErr("mark payment", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return durableErr("mark payment rows", err)
	}
	if rows == 0 {
		return fmt.Errorf("payment %s not PENDING: %w", id, auctionerrors.ErrConflict)
	}
	return nil
}

// MarkPaymentFailed implements PaymentStore.
func (s *Postgres) MarkPaymentFailed(ctx context.Context, id string) error {
	return s.markPayment(ctx, id, models.PaymentFailed, nil)
}

// MarkPaymentSucceeded implements PaymentStore.
func (s *Postgres) MarkPaymentSucceeded(ctx context.Context, id string, paidAt time.Time) error {
	return s.markPayment(ctx, id, models.PaymentSuccess, paidAt.UTC())
}

// GetUsername implements UserStore. Unknown ids resolve to "".
func (s *Postgres) GetUsername(ctx context.Context, id string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var name string
	err := s.db.QueryRowContext(ctx, `SELECT username FROM users WHERE id = $1`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", durableErr("get username", err)
	}
	return name, nil
}

// SaveUser upserts a user row. Used by seeding, not by the core paths.
func (s *Postgres) SaveUser(ctx context.Context, u models.User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`, u.ID, u.Username)
	if err != nil {
		return durableErr("save user", err)
	}
	return nil
}
