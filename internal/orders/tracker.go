// Package orders tracks the lifecycle of broker orders per session.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"efriend-trader/internal/broker"
	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/logging"
	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
	"efriend-trader/internal/resilience"
	"efriend-trader/pkg/utils"
)

// OrderBroker is the part of the broker the tracker talks to.
type OrderBroker interface {
	PlaceOrder(ctx context.Context, sess *models.Session, payload market.OrderPayload) (*broker.OrderResult, error)
	CancelOrder(ctx context.Context, sess *models.Session, payload market.CancelPayload) error
	ListOrders(ctx context.Context, sess *models.Session, filter market.OrderFilter) ([]broker.OrderRecord, error)
}

// Journal persists tracked orders across restarts.
type Journal interface {
	SaveOrder(ctx context.Context, key models.SessionKey, order *models.Order) error
	LoadOrders(ctx context.Context, key models.SessionKey) ([]models.Order, error)
	DeleteOrders(ctx context.Context, key models.SessionKey) error
}

// Tracker keeps one order book per session and reconciles it with the broker.
type Tracker struct {
	broker  OrderBroker
	guard   *resilience.Guard
	retry   utils.RetryConfig
	journal Journal
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	books map[models.SessionKey]*book
}

// book is the order state of one session.
type book struct {
	// merge serializes reconciliation, submits and cancels on the book.
	merge sync.Mutex

	mu     sync.RWMutex
	orders map[string]*models.Order
	seq    []string
}

// NewTracker creates an order tracker. journal may be nil.
func NewTracker(b OrderBroker, guard *resilience.Guard, retry utils.RetryConfig, journal Journal, logger zerolog.Logger) *Tracker {
	if retry.Retryable == nil {
		retry.Retryable = apperrors.IsRetryableRead
	}
	return &Tracker{
		broker:  b,
		guard:   guard,
		retry:   retry,
		journal: journal,
		logger:  logger.With().Str("component", "orders").Logger(),
		now:     utils.Now,
		books:   make(map[models.SessionKey]*book),
	}
}

// CancelOutcome is the result of cancelling one order in a batch.
type CancelOutcome struct {
	OrderNum    string
	ProductCode string
	Count       int
	Err         error
}

// CancelBatch collects per-order outcomes of CancelAll.
type CancelBatch struct {
	Outcomes []CancelOutcome
}

// Cancelled returns the outcomes that succeeded.
func (b *CancelBatch) Cancelled() []CancelOutcome {
	var out []CancelOutcome
	for _, o := range b.Outcomes {
		if o.Err == nil {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes that failed.
func (b *CancelBatch) Failed() []CancelOutcome {
	var out []CancelOutcome
	for _, o := range b.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Submit places an order and starts tracking it as unprocessed. A timed out
// placement is not tracked; the next listing picks it up if it landed.
// Submits and cancels on one session run one at a time.
func (t *Tracker) Submit(ctx context.Context, sess *models.Session, req models.OrderRequest) (string, error) {
	payload, err := market.ShapeOrderRequest(sess.Market, market.AccountFields(sess.Market, sess.Account), req)
	if err != nil {
		return "", err
	}

	b := t.book(ctx, sess.Key())
	logger := t.sessionLogger(ctx, sess)

	order := &models.Order{
		MarketCode:  payload.Fields["OVRS_EXCG_CD"],
		ProductCode: payload.Fields["PDNO"],
		Side:        req.Side,
		Count:       req.Count,
		Remaining:   req.Count,
		Price:       req.Price,
		OrderDate:   t.now().Format("20060102"),
		State:       models.OrderSubmitted,
	}

	b.merge.Lock()
	defer b.merge.Unlock()

	res, err := resilience.Call(ctx, t.guard, "place_order", func(ctx context.Context) (*broker.OrderResult, error) {
		return t.broker.PlaceOrder(ctx, sess, payload)
	})
	if err != nil {
		err = brokerFailure(err, "", order.ProductCode, "place")
		if apperrors.Is(err, apperrors.ErrOrderRejected) {
			code, reason := apperrors.Reason(err)
			logger.Warn().Str("product_code", order.ProductCode).Str("code", code).Str("reason", reason).Msg("Order rejected")
		}
		return "", err
	}

	order.OrderNum = res.OrderNum
	if err := order.TransitionTo(models.OrderUnprocessed); err != nil {
		return "", err
	}

	b.mu.Lock()
	if _, seen := b.orders[order.OrderNum]; !seen {
		b.orders[order.OrderNum] = order
		b.seq = append(b.seq, order.OrderNum)
	}
	tracked := *b.orders[order.OrderNum]
	b.mu.Unlock()

	t.persist(ctx, sess.Key(), &tracked)
	logging.LogOrder(logger, tracked.OrderNum, tracked.ProductCode, string(tracked.Side), string(tracked.State), tracked.Count)
	return tracked.OrderNum, nil
}

// Cancel cancels req.Count shares of a tracked order. Orders unknown
// locally are looked up at the broker first.
func (t *Tracker) Cancel(ctx context.Context, sess *models.Session, req models.CancelRequest) error {
	if req.Count <= 0 {
		return apperrors.NewValidationError("count", req.Count, "count must be positive")
	}
	return t.cancel(ctx, sess, req, false)
}

func (t *Tracker) cancel(ctx context.Context, sess *models.Session, req models.CancelRequest, all bool) error {
	b := t.book(ctx, sess.Key())

	b.merge.Lock()
	defer b.merge.Unlock()

	order, ok := b.get(req.OrderNum)
	if !ok {
		filter, err := market.ShapeOrderFilter(sess.Market, req.MarketCode, market.StatusAll, "", t.now())
		if err != nil {
			return err
		}
		if err := t.refreshLocked(ctx, sess, b, filter); err != nil {
			return err
		}
		if order, ok = b.get(req.OrderNum); !ok {
			return apperrors.NewOrderError(req.OrderNum, req.ProductCode, "cancel", "order is not known to the broker", apperrors.ErrOrderNotFound)
		}
	}

	if order.State.Terminal() {
		return apperrors.NewOrderError(order.OrderNum, order.ProductCode, "cancel", "order is "+string(order.State), apperrors.ErrInvalidState)
	}
	if all {
		req.Count = order.Remaining
	}
	if req.Count <= 0 || req.Count > order.Remaining {
		return apperrors.NewValidationError("count", req.Count, fmt.Sprintf("must be between 1 and %d", order.Remaining))
	}
	if req.ProductCode == "" {
		req.ProductCode = order.ProductCode
	}
	if req.MarketCode == "" {
		req.MarketCode = order.MarketCode
	}

	payload, err := market.ShapeCancelRequest(sess.Market, market.AccountFields(sess.Market, sess.Account), req)
	if err != nil {
		return err
	}

	err = resilience.Do(ctx, t.guard, "cancel_order", func(ctx context.Context) error {
		return t.broker.CancelOrder(ctx, sess, payload)
	})
	if err != nil {
		return brokerFailure(err, order.OrderNum, order.ProductCode, "cancel")
	}

	b.mu.Lock()
	tracked := b.orders[order.OrderNum]
	tracked.Remaining -= req.Count
	tracked.UpdatedAt = time.Now()
	if tracked.Remaining == 0 {
		if err := tracked.TransitionTo(models.OrderCancelled); err != nil {
			b.mu.Unlock()
			return err
		}
	}
	updated := *tracked
	b.mu.Unlock()

	t.persist(ctx, sess.Key(), &updated)
	logging.LogOrder(t.sessionLogger(ctx, sess), updated.OrderNum, updated.ProductCode, string(updated.Side), string(updated.State), updated.Remaining)
	return nil
}

// CancelAll cancels every unprocessed order, optionally only those on
// marketCode. Each order succeeds or fails on its own.
func (t *Tracker) CancelAll(ctx context.Context, sess *models.Session, marketCode string) (*CancelBatch, error) {
	open, err := t.ListUnprocessed(ctx, sess, marketCode)
	if err != nil {
		return nil, err
	}

	batch := &CancelBatch{Outcomes: make([]CancelOutcome, 0, len(open))}
	for _, o := range open {
		err := t.cancel(ctx, sess, models.CancelRequest{
			OrderNum:    o.OrderNum,
			ProductCode: o.ProductCode,
			MarketCode:  o.MarketCode,
		}, true)
		batch.Outcomes = append(batch.Outcomes, CancelOutcome{
			OrderNum:    o.OrderNum,
			ProductCode: o.ProductCode,
			Count:       o.Remaining,
			Err:         err,
		})
	}

	logger := t.sessionLogger(ctx, sess)
	logger.Info().
		Int("cancelled", len(batch.Cancelled())).
		Int("failed", len(batch.Failed())).
		Msg("Cancel all completed")
	return batch, nil
}

// Recancel retries failed CancelAll outcomes, typically on a fresh session.
// Orders are listed first and only those still open are cancelled again;
// one the broker already shows as cancelled counts as cancelled.
func (t *Tracker) Recancel(ctx context.Context, sess *models.Session, marketCode string, failed []CancelOutcome) (*CancelBatch, error) {
	open, err := t.ListUnprocessed(ctx, sess, marketCode)
	if err != nil {
		return nil, err
	}
	still := make(map[string]models.Order, len(open))
	for _, o := range open {
		still[o.OrderNum] = o
	}

	b := t.book(ctx, sess.Key())
	batch := &CancelBatch{Outcomes: make([]CancelOutcome, 0, len(failed))}
	for _, f := range failed {
		out := CancelOutcome{OrderNum: f.OrderNum, ProductCode: f.ProductCode, Count: f.Count}
		if o, ok := still[f.OrderNum]; ok {
			out.Count = o.Remaining
			out.Err = t.cancel(ctx, sess, models.CancelRequest{
				OrderNum:    o.OrderNum,
				ProductCode: o.ProductCode,
				MarketCode:  o.MarketCode,
			}, true)
		} else if o, ok := b.get(f.OrderNum); !ok {
			out.Err = apperrors.NewOrderError(f.OrderNum, f.ProductCode, "cancel", "order is not known to the broker", apperrors.ErrOrderNotFound)
		} else if o.State != models.OrderCancelled {
			out.Err = apperrors.NewOrderError(o.OrderNum, o.ProductCode, "cancel", "order is "+string(o.State), apperrors.ErrInvalidState)
		}
		batch.Outcomes = append(batch.Outcomes, out)
	}
	return batch, nil
}

// ListUnprocessed refreshes from the broker and returns today's open orders.
// Local orders the broker no longer reports are not returned.
func (t *Tracker) ListUnprocessed(ctx context.Context, sess *models.Session, marketCode string) ([]models.Order, error) {
	filter, err := market.ShapeOrderFilter(sess.Market, marketCode, market.StatusAll, "", t.now())
	if err != nil {
		return nil, err
	}
	b, err := t.refresh(ctx, sess, filter)
	if err != nil {
		return nil, err
	}
	return b.list(func(o *models.Order) bool {
		return o.State == models.OrderUnprocessed && inWindow(o, filter) && matchCode(o, filter.MarketCode)
	}), nil
}

// ListProcessed refreshes from the broker and returns orders executed since
// startDate (empty means today).
func (t *Tracker) ListProcessed(ctx context.Context, sess *models.Session, marketCode, startDate string) ([]models.Order, error) {
	filter, err := market.ShapeOrderFilter(sess.Market, marketCode, market.StatusAll, startDate, t.now())
	if err != nil {
		return nil, err
	}
	b, err := t.refresh(ctx, sess, filter)
	if err != nil {
		return nil, err
	}
	return b.list(func(o *models.Order) bool {
		return o.State == models.OrderProcessed && inWindow(o, filter) && matchCode(o, filter.MarketCode)
	}), nil
}

// Forget drops the in-memory book of key. The journal is kept so the book
// can be rebuilt on next use.
func (t *Tracker) Forget(key models.SessionKey) {
	t.mu.Lock()
	delete(t.books, key)
	t.mu.Unlock()
}

// Purge drops the book of key together with its journal.
func (t *Tracker) Purge(ctx context.Context, key models.SessionKey) error {
	t.Forget(key)
	if t.journal == nil {
		return nil
	}
	return t.journal.DeleteOrders(ctx, key)
}

func (t *Tracker) refresh(ctx context.Context, sess *models.Session, filter market.OrderFilter) (*book, error) {
	b := t.book(ctx, sess.Key())
	records, fetchedAt, err := t.fetch(ctx, sess, filter)
	if err != nil {
		return nil, err
	}
	b.merge.Lock()
	t.apply(ctx, sess, b, filter, records, fetchedAt)
	b.merge.Unlock()
	return b, nil
}

// refreshLocked is refresh for callers already holding b.merge.
func (t *Tracker) refreshLocked(ctx context.Context, sess *models.Session, b *book, filter market.OrderFilter) error {
	records, fetchedAt, err := t.fetch(ctx, sess, filter)
	if err != nil {
		return err
	}
	t.apply(ctx, sess, b, filter, records, fetchedAt)
	return nil
}

func (t *Tracker) fetch(ctx context.Context, sess *models.Session, filter market.OrderFilter) ([]broker.OrderRecord, time.Time, error) {
	fetchedAt := time.Now()
	records, err := utils.RetryWithResult(ctx, t.retry, func() ([]broker.OrderRecord, error) {
		return resilience.Call(ctx, t.guard, "list_orders", func(ctx context.Context) ([]broker.OrderRecord, error) {
			return t.broker.ListOrders(ctx, sess, filter)
		})
	})
	return records, fetchedAt, err
}

// apply merges broker records into b. The broker wins on every field except
// that a local terminal state is never reopened. Orders changed locally after
// fetchedAt are left alone. Open orders inside filter that the broker did not
// return are dropped from the book; their journal entries stay. Caller holds
// b.merge.
func (t *Tracker) apply(ctx context.Context, sess *models.Session, b *book, filter market.OrderFilter, records []broker.OrderRecord, fetchedAt time.Time) {
	logger := t.sessionLogger(ctx, sess)
	var changed []models.Order
	reported := make(map[string]bool, len(records))

	b.mu.Lock()
	for _, rec := range records {
		reported[rec.OrderNum] = true
		target := rec.State()
		existing, ok := b.orders[rec.OrderNum]
		if !ok {
			o := orderFromRecord(rec)
			o.State = target
			o.UpdatedAt = time.Now()
			b.orders[o.OrderNum] = o
			b.seq = append(b.seq, o.OrderNum)
			changed = append(changed, *o)
			continue
		}
		if existing.UpdatedAt.After(fetchedAt) {
			continue
		}

		before := *existing
		state := existing.State
		copyRecord(existing, rec)
		existing.State = state

		switch {
		case state == target:
		case state.Terminal():
			logger.Warn().
				Str("order_num", existing.OrderNum).
				Str("local_state", string(state)).
				Str("broker_state", string(target)).
				Msg("Broker reports a different state for a closed order, keeping local state")
		default:
			if err := existing.TransitionTo(target); err != nil {
				logger.Warn().Err(err).Str("order_num", existing.OrderNum).Msg("Ignoring broker state")
			}
		}

		if orderChanged(&before, existing) {
			existing.UpdatedAt = time.Now()
			changed = append(changed, *existing)
		}
	}
	if filter.Status == market.StatusAll || filter.Status == market.StatusUnprocessed {
		for _, num := range b.vanished(filter, reported, fetchedAt) {
			logger.Warn().Str("order_num", num).Msg("Broker no longer reports open order, dropping it")
		}
	}
	b.mu.Unlock()

	for i := range changed {
		t.persist(ctx, sess.Key(), &changed[i])
		if changed[i].State.Terminal() {
			logging.LogOrder(logger, changed[i].OrderNum, changed[i].ProductCode, string(changed[i].Side), string(changed[i].State), changed[i].Count)
		}
	}
}

// book returns the book of key, hydrating it from the journal on first use.
func (t *Tracker) book(ctx context.Context, key models.SessionKey) *book {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.books[key]; ok {
		return b
	}

	b := &book{orders: make(map[string]*models.Order)}
	if t.journal != nil {
		saved, err := t.journal.LoadOrders(ctx, key)
		if err != nil {
			t.logger.Warn().Err(err).Str("market", string(key.Market)).Msg("Failed to load order journal")
		}
		for i := range saved {
			o := saved[i]
			b.orders[o.OrderNum] = &o
			b.seq = append(b.seq, o.OrderNum)
		}
	}
	t.books[key] = b
	return b
}

func (t *Tracker) persist(ctx context.Context, key models.SessionKey, order *models.Order) {
	if t.journal == nil {
		return
	}
	if err := t.journal.SaveOrder(context.WithoutCancel(ctx), key, order); err != nil {
		t.logger.Warn().Err(err).Str("order_num", order.OrderNum).Msg("Failed to journal order")
	}
}

func (t *Tracker) sessionLogger(ctx context.Context, sess *models.Session) zerolog.Logger {
	return logging.WithSession(logging.FromContext(ctx, t.logger), sess.Account, string(sess.Market))
}

func (b *book) get(orderNum string) (models.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderNum]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}

func (b *book) list(keep func(*models.Order) bool) []models.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Order, 0, len(b.seq))
	for _, num := range b.seq {
		if o := b.orders[num]; keep(o) {
			out = append(out, *o)
		}
	}
	return out
}

// vanished removes open orders covered by filter that are missing from
// reported, except those changed after fetchedAt. Caller holds b.mu.
func (b *book) vanished(filter market.OrderFilter, reported map[string]bool, fetchedAt time.Time) []string {
	var dropped []string
	kept := b.seq[:0]
	for _, num := range b.seq {
		o := b.orders[num]
		if !reported[num] &&
			!o.State.Terminal() &&
			!o.UpdatedAt.After(fetchedAt) &&
			inWindow(o, filter) &&
			matchCode(o, filter.MarketCode) {
			delete(b.orders, num)
			dropped = append(dropped, num)
			continue
		}
		kept = append(kept, num)
	}
	b.seq = kept
	return dropped
}

func inWindow(o *models.Order, filter market.OrderFilter) bool {
	if filter.StartDate != "" && o.OrderDate < filter.StartDate {
		return false
	}
	return filter.EndDate == "" || o.OrderDate <= filter.EndDate
}

func matchCode(o *models.Order, code string) bool {
	return code == "" || o.MarketCode == code
}

func orderFromRecord(rec broker.OrderRecord) *models.Order {
	o := &models.Order{OrderNum: rec.OrderNum}
	copyRecord(o, rec)
	return o
}

func copyRecord(o *models.Order, rec broker.OrderRecord) {
	o.OriginOrderNum = rec.OriginOrderNum
	if rec.MarketCode != "" {
		o.MarketCode = rec.MarketCode
	}
	o.ProductCode = rec.ProductCode
	if rec.ProductName != "" {
		o.ProductName = rec.ProductName
	}
	o.Side = rec.Side
	o.Count = rec.Count
	o.Remaining = rec.Remaining
	o.Price = rec.Price
	o.ExecutedPrice = rec.ExecutedPrice
	if rec.OrderDate != "" {
		o.OrderDate = rec.OrderDate
	}
}

func orderChanged(a, b *models.Order) bool {
	return a.State != b.State ||
		a.Remaining != b.Remaining ||
		a.Count != b.Count ||
		a.ProductName != b.ProductName ||
		!a.Price.Equal(b.Price) ||
		!a.ExecutedPrice.Equal(b.ExecutedPrice)
}

// brokerFailure turns a business-level broker refusal into an order error.
// Transport, session and breaker failures pass through unchanged.
func brokerFailure(err error, orderNum, productCode, action string) error {
	var be *apperrors.BrokerError
	if !errors.As(err, &be) ||
		apperrors.IsRetryableRead(err) ||
		apperrors.Is(err, apperrors.ErrSessionExpired) ||
		apperrors.Is(err, apperrors.ErrAuthentication) {
		return err
	}
	if be.Err != nil {
		oe := apperrors.NewOrderError(orderNum, productCode, action, be.Message, be.Err)
		oe.Code = be.Code
		return oe
	}
	return apperrors.Rejected(orderNum, productCode, action, be)
}
