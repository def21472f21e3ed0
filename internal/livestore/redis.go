package livestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-core/internal/auctionerrors"
	"github.com/aaronwang/auction-core/internal/models"
)

// admissionScript decides accept/reject atomically against the head.
// All comparisons run in integer cents: the advertised minimum is computed
// with exact decimal math on the Go side, and a binary-float multiply here
// would reject a bid equal to it.
//
// KEYS[1] highest, KEYS[2] bid set, KEYS[3] state hash.
// ARGV[1] amount, ARGV[2] envelope JSON, ARGV[3] bidder id,
// ARGV[4] base price, ARGV[5] increment in basis points.
const admissionScript = `
local amount = tonumber(ARGV[1])
local amountCents = math.floor(amount * 100 + 0.5)

local highest = redis.call('GET', KEYS[1])
if not highest or tonumber(highest) == 0 then
    local baseCents = math.floor(tonumber(ARGV[4]) * 100 + 0.5)
    if amountCents < baseCents then
        return '-3:' .. ARGV[4]
    end
else
    local centsHighest = math.floor(tonumber(highest) * 100 + 0.5)
    local incrementBp = tonumber(ARGV[5])
    local minCents = centsHighest + math.ceil(centsHighest * incrementBp / 10000)
    if amountCents < minCents then
        return '-1:' .. string.format('%.2f', centsHighest / 100) .. ':' .. string.format('%.2f', minCents / 100)
    end
end

redis.call('SET', KEYS[1], ARGV[1], 'KEEPTTL')
redis.call('ZADD', KEYS[2], amount, ARGV[2])
-- The first admitted bid creates the set; give it the projection's TTL so
-- it cannot outlive the other keys.
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
    redis.call('PEXPIRE', KEYS[2], ttl)
end
redis.call('HSET', KEYS[3], 'highestBid', ARGV[1], 'highestBidder', ARGV[3])
return '1'
`

// removeHeadScript pops the top envelope and promotes the next one into
// the highest key and the state hash. Returns false when the set was
// empty, '' when the pop drained it, else the new head envelope.
const removeHeadScript = `
local popped = redis.call('ZPOPMAX', KEYS[2])
if #popped == 0 then
    return false
end
local top = redis.call('ZREVRANGE', KEYS[2], 0, 0)
if #top == 0 then
    redis.call('SET', KEYS[1], '0', 'KEEPTTL')
    redis.call('HSET', KEYS[3], 'highestBid', '0', 'highestBidder', '')
    return ''
end
local env = cjson.decode(top[1])
redis.call('SET', KEYS[1], env['amount'], 'KEEPTTL')
redis.call('HSET', KEYS[3], 'highestBid', env['amount'], 'highestBidder', env['bidderId'])
return top[1]
`

// Redis implements Store on go-redis v9. Scripts run via EVALSHA with
// automatic EVAL fallback.
type Redis struct {
	client     *redis.Client
	admission  *redis.Script
	removeHead *redis.Script
}

// NewRedis connects to the live store at url (redis://...) and pings it.
func NewRedis(url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse live store url: %w", err)
	}
	opt.DialTimeout = 500 * time.Millisecond
	opt.ReadTimeout = 500 * time.Millisecond
	opt.WriteTimeout = 500 * time.Millisecond

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping live store: %w", err)
	}

	return &Redis{
		client:     client,
		admission:  redis.NewScript(admissionScript),
		removeHead: redis.NewScript(removeHeadScript),
	}, nil
}

// Close releases the connection pool.
func (s *Redis) Close() error {
	return s.client.Close()
}

func (s *Redis) keys(auctionID string) []string {
	return []string{highestKey(auctionID), bidsKey(auctionID), stateKey(auctionID)}
}

func liveErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(auctionerrors.ErrLiveStoreUnavailable, err))
}

// Activate implements Store.
func (s *Redis) Activate(ctx context.Context, a models.Auction, bids []models.Bid, ttl time.Duration) error {
	ttl = clampTTL(ttl)

	var (
		members []redis.Z
		topRaw  string
		topEnv  models.BidEnvelope
		hasHead bool
	)
	for _, b := range bids {
		env := envelopeFromBid(b)
		raw, err := models.EncodeBidEnvelope(env)
		if err != nil {
			return fmt.Errorf("encode bid envelope: %w", err)
		}
		members = append(members, redis.Z{Score: env.Amount.InexactFloat64(), Member: raw})
		if !hasHead || env.Amount.GreaterThan(topEnv.Amount) ||
			(env.Amount.Equal(topEnv.Amount) && raw > topRaw) {
			topEnv, topRaw, hasHead = env, raw, true
		}
	}

	headAmount := decimal.Zero
	headBidder := ""
	if hasHead {
		headAmount = topEnv.Amount
		headBidder = topEnv.BidderID
	}
	if a.CurrentHighestBid.GreaterThan(headAmount) {
		// The durable row is ahead of the bid rows, so a head append was
		// lost. Keep the admission floor at the row amount; the holder is
		// unknown.
		headAmount = a.CurrentHighestBid
		headBidder = ""
	}

	highest := "0"
	if headAmount.Sign() > 0 {
		highest = headAmount.StringFixed(2)
	}
	highestBid := highest
	highestBidder := headBidder

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keys(a.ID)...)
	pipe.HSet(ctx, stateKey(a.ID), map[string]any{
		"status":        string(a.Status),
		"itemId":        a.ItemID,
		"startTime":     a.StartTime.UTC().Format(time.RFC3339Nano),
		"endTime":       a.EndTime.UTC().Format(time.RFC3339Nano),
		"highestBid":    highestBid,
		"highestBidder": highestBidder,
	})
	pipe.Set(ctx, highestKey(a.ID), highest, ttl)
	if len(members) > 0 {
		pipe.ZAdd(ctx, bidsKey(a.ID), members...)
		pipe.Expire(ctx, bidsKey(a.ID), ttl)
	}
	pipe.Expire(ctx, stateKey(a.ID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return liveErr("activate auction", err)
	}
	return nil
}

// Exists implements Store.
func (s *Redis) Exists(ctx context.Context, auctionID string) (bool, error) {
	n, err := s.client.Exists(ctx, stateKey(auctionID)).Result()
	if err != nil {
		return false, liveErr("check live state", err)
	}
	return n > 0, nil
}

// Deactivate implements Store.
func (s *Redis) Deactivate(ctx context.Context, auctionID string) error {
	if err := s.client.Del(ctx, s.keys(auctionID)...).Err(); err != nil {
		return liveErr("deactivate auction", err)
	}
	return nil
}

// State implements Store.
func (s *Redis) State(ctx context.Context, auctionID string) (models.LiveState, bool, error) {
	fields, err := s.client.HGetAll(ctx, stateKey(auctionID)).Result()
	if err != nil {
		return models.LiveState{}, false, liveErr("read live state", err)
	}
	if len(fields) == 0 {
		return models.LiveState{}, false, nil
	}
	st, err := parseState(fields)
	if err != nil {
		return models.LiveState{}, false, fmt.Errorf("parse live state for %s: %w", auctionID, err)
	}
	return st, true, nil
}

func parseState(fields map[string]string) (models.LiveState, error) {
	var (
		st  models.LiveState
		err error
	)
	st.Status = models.AuctionStatus(fields["status"])
	st.ItemID = fields["itemId"]
	st.HighestBidder = fields["highestBidder"]

	if v := fields["startTime"]; v != "" {
		if st.StartTime, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return models.LiveState{}, fmt.Errorf("startTime %q: %w", v, err)
		}
		st.StartTime = st.StartTime.UTC()
	}
	if v := fields["endTime"]; v != "" {
		if st.EndTime, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return models.LiveState{}, fmt.Errorf("endTime %q: %w", v, err)
		}
		st.EndTime = st.EndTime.UTC()
	}
	if v := fields["highestBid"]; v != "" {
		if st.HighestBid, err = decimal.NewFromString(v); err != nil {
			return models.LiveState{}, fmt.Errorf("highestBid %q: %w", v, err)
		}
	}
	return st, nil
}

// CurrentHighest implements Store.
func (s *Redis) CurrentHighest(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	raw, err := s.client.Get(ctx, highestKey(auctionID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, liveErr("read current highest", err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse current highest %q: %w", raw, err)
	}
	return d, nil
}

// HighestBidder implements Store.
func (s *Redis) HighestBidder(ctx context.Context, auctionID string) (string, error) {
	bidder, err := s.client.HGet(ctx, stateKey(auctionID), "highestBidder").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", liveErr("read highest bidder", err)
	}
	return bidder, nil
}

// RecentBids implements Store.
func (s *Redis) RecentBids(ctx context.Context, auctionID string, n int64) ([]models.BidEnvelope, error) {
	stop := n - 1
	if n <= 0 {
		stop = -1
	}
	raws, err := s.client.ZRevRange(ctx, bidsKey(auctionID), 0, stop).Result()
	if err != nil {
		return nil, liveErr("read recent bids", err)
	}
	envs := make([]models.BidEnvelope, 0, len(raws))
	for _, raw := range raws {
		env, err := models.DecodeBidEnvelope(raw)
		if err != nil {
			return nil, fmt.Errorf("decode bid envelope: %w", err)
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// BidCount implements Store.
func (s *Redis) BidCount(ctx context.Context, auctionID string) (int64, error) {
	n, err := s.client.ZCard(ctx, bidsKey(auctionID)).Result()
	if err != nil {
		return 0, liveErr("count live bids", err)
	}
	return n, nil
}

// PlaceBid implements Store.
func (s *Redis) PlaceBid(ctx context.Context, auctionID string, env models.BidEnvelope, basePrice, incrementPercent decimal.Decimal) (AdmissionResult, error) {
	raw, err := models.EncodeBidEnvelope(env)
	if err != nil {
		return AdmissionResult{}, fmt.Errorf("encode bid envelope: %w", err)
	}

	res, err := s.admission.Run(ctx, s.client, s.keys(auctionID),
		env.Amount.StringFixed(2),
		raw,
		env.BidderID,
		basePrice.StringFixed(2),
		basisPoints(incrementPercent),
	).Result()
	if err != nil {
		return AdmissionResult{}, liveErr("run admission script", err)
	}
	str, ok := res.(string)
	if !ok {
		return AdmissionResult{}, fmt.Errorf("admission script returned %T", res)
	}
	return parseAdmission(str)
}

// RemoveHead implements Store.
func (s *Redis) RemoveHead(ctx context.Context, auctionID string) (models.BidEnvelope, bool, error) {
	res, err := s.removeHead.Run(ctx, s.client, s.keys(auctionID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.BidEnvelope{}, false, nil
	}
	if err != nil {
		return models.BidEnvelope{}, false, liveErr("run remove-head script", err)
	}
	str, ok := res.(string)
	if !ok {
		return models.BidEnvelope{}, false, fmt.Errorf("remove-head script returned %T", res)
	}
	if str == "" {
		return models.BidEnvelope{}, false, nil
	}
	env, err := models.DecodeBidEnvelope(str)
	if err != nil {
		return models.BidEnvelope{}, false, fmt.Errorf("decode promoted envelope: %w", err)
	}
	return env, true, nil
}
