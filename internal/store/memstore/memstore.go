// Package memstore is an in-memory store.Store. Units of work are
// serialized by a single mutex and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/store"
)

type selectionKey struct {
	userID    int64
	variantID int64
}

type pairKey struct {
	a, b int64
}

type state struct {
	seq int64

	users          map[int64]models.User
	addresses      map[int64]models.Address
	selections     map[selectionKey]models.Selection
	variants       map[int64]models.Variant
	inventoryLog   []models.InventoryLogEntry
	orders         map[int64]models.Order
	orderItems     map[int64][]models.OrderItem
	payments       map[int64]models.PaymentRecord
	paymentsByGW   map[string]int64
	coupons        map[int64]models.Coupon
	partners       map[int64]models.Partner
	couponPartners map[pairKey]models.CouponPartnerAssignment
	earnings       map[pairKey]models.PartnerEarning
}

func newState() *state {
	return &state{
		users:          make(map[int64]models.User),
		addresses:      make(map[int64]models.Address),
		selections:     make(map[selectionKey]models.Selection),
		variants:       make(map[int64]models.Variant),
		orders:         make(map[int64]models.Order),
		orderItems:     make(map[int64][]models.OrderItem),
		payments:       make(map[int64]models.PaymentRecord),
		paymentsByGW:   make(map[string]int64),
		coupons:        make(map[int64]models.Coupon),
		partners:       make(map[int64]models.Partner),
		couponPartners: make(map[pairKey]models.CouponPartnerAssignment),
		earnings:       make(map[pairKey]models.PartnerEarning),
	}
}

func (s *state) clone() *state {
	c := &state{
		seq:            s.seq,
		users:          maps.Clone(s.users),
		addresses:      maps.Clone(s.addresses),
		selections:     maps.Clone(s.selections),
		variants:       maps.Clone(s.variants),
		inventoryLog:   slices.Clone(s.inventoryLog),
		orders:         maps.Clone(s.orders),
		orderItems:     make(map[int64][]models.OrderItem, len(s.orderItems)),
		payments:       maps.Clone(s.payments),
		paymentsByGW:   maps.Clone(s.paymentsByGW),
		coupons:        maps.Clone(s.coupons),
		partners:       maps.Clone(s.partners),
		couponPartners: maps.Clone(s.couponPartners),
		earnings:       maps.Clone(s.earnings),
	}
	for id, items := range s.orderItems {
		c.orderItems[id] = slices.Clone(items)
	}
	return c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store implements store.Store in memory. Reader methods must not be called
// from inside an InTx callback.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock returns a Store that stamps rows with now.
func NewWithClock(now func() time.Time) *Store {
	return &Store{data: newState(), now: now}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memTx{st: s.data, now: s.now}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.data.orders[orderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	order.Items = slices.Clone(s.data.orderItems[orderID])

	var latest *models.PaymentRecord
	for _, p := range s.data.payments {
		if p.OrderID == orderID && (latest == nil || p.ID > latest.ID) {
			p := p
			latest = &p
		}
	}
	order.Payment = latest
	return &order, nil
}

func (s *Store) ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error) {
	position, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var orders []models.Order
	for _, o := range s.data.orders {
		if o.UserID == userID && position.Before(o.CreatedAt, o.ID) {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	if len(orders) > limit+1 {
		orders = orders[:limit+1]
	}
	return store.NewCursorPage(orders, limit), nil
}

func (s *Store) PaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.data.paymentsByGW[gatewayPaymentID]
	if !ok {
		return nil, database.ErrNotFound
	}
	payment := s.data.payments[id]
	return &payment, nil
}

func (s *Store) ListSelections(ctx context.Context, userID int64) ([]models.Selection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.userSelections(userID), nil
}

func (s *Store) GetVariant(ctx context.Context, variantID int64) (*models.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	variant, ok := s.data.variants[variantID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &variant, nil
}

func (s *Store) GetVariants(ctx context.Context, variantIDs []int64) (map[int64]*models.Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.variantsByID(variantIDs), nil
}

func (s *Store) GetAddress(ctx context.Context, userID, addressID int64) (*models.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.address(userID, addressID)
}

func (s *Store) CouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.couponByCode(code)
}

func (s *Store) ListInventoryLog(ctx context.Context, variantID int64) ([]models.InventoryLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []models.InventoryLogEntry
	for _, e := range s.data.inventoryLog {
		if e.VariantID == variantID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s *Store) ListDeliveredOrdersMissingEarnings(ctx context.Context, afterID int64, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	credited := make(map[int64]bool)
	for key := range s.data.earnings {
		credited[key.b] = true
	}

	var orders []models.Order
	for _, o := range s.data.orders {
		if o.ID <= afterID || o.Status != models.OrderStatusDelivered || o.CouponID == nil {
			continue
		}
		if credited[o.ID] || !o.CommissionBase().IsPositive() || !s.data.hasCommissionPartner(*o.CouponID) {
			continue
		}
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) ListPartnerEarnings(ctx context.Context, partnerID int64, since time.Time) ([]models.EarningRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []models.EarningRow
	for key, e := range s.data.earnings {
		if key.a != partnerID {
			continue
		}
		o, ok := s.data.orders[e.OrderID]
		if !ok || o.Status != models.OrderStatusDelivered || o.CreatedAt.Before(since) {
			continue
		}
		rows = append(rows, models.EarningRow{
			PartnerEarning: e,
			OrderNumber:    o.OrderNumber,
			OrderTotal:     o.Total,
			OrderCreatedAt: o.CreatedAt,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].OrderCreatedAt.Equal(rows[j].OrderCreatedAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].OrderCreatedAt.After(rows[j].OrderCreatedAt)
	})
	return rows, nil
}

func (s *state) userSelections(userID int64) []models.Selection {
	var selections []models.Selection
	for key, sel := range s.selections {
		if key.userID == userID {
			selections = append(selections, sel)
		}
	}
	sort.Slice(selections, func(i, j int) bool { return selections[i].VariantID < selections[j].VariantID })
	return selections
}

func (s *state) variantsByID(ids []int64) map[int64]*models.Variant {
	byID := make(map[int64]*models.Variant, len(ids))
	for _, id := range ids {
		if v, ok := s.variants[id]; ok {
			byID[id] = &v
		}
	}
	return byID
}

func (s *state) address(userID, addressID int64) (*models.Address, error) {
	a, ok := s.addresses[addressID]
	if !ok || a.UserID != userID {
		return nil, database.ErrNotFound
	}
	return &a, nil
}

func (s *state) couponByCode(code string) (*models.Coupon, error) {
	for _, c := range s.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *state) hasCommissionPartner(couponID int64) bool {
	for key, a := range s.couponPartners {
		if key.a == couponID && a.CommissionPercent.IsPositive() {
			return true
		}
	}
	return false
}
