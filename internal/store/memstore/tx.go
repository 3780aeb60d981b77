package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/safar/settlement-core/internal/database"
	"github.com/safar/settlement-core/internal/models"
)

// memTx mutates the live state; Store.InTx restores the snapshot when the
// callback fails.
type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) InsertUser(ctx context.Context, user *models.User) error {
	user.ID = t.st.nextID()
	user.CreatedAt = t.now()
	t.st.users[user.ID] = *user
	return nil
}

func (t *memTx) InsertAddress(ctx context.Context, address *models.Address) error {
	if _, ok := t.st.users[address.UserID]; !ok {
		return database.ErrNotFound
	}
	address.ID = t.st.nextID()
	address.CreatedAt = t.now()
	t.st.addresses[address.ID] = *address
	return nil
}

func (t *memTx) GetAddress(ctx context.Context, userID, addressID int64) (*models.Address, error) {
	return t.st.address(userID, addressID)
}

func (t *memTx) UpsertSelection(ctx context.Context, selection *models.Selection) error {
	if _, ok := t.st.variants[selection.VariantID]; !ok {
		return database.ErrNotFound
	}
	key := selectionKey{userID: selection.UserID, variantID: selection.VariantID}
	if existing, ok := t.st.selections[key]; ok {
		selection.CreatedAt = existing.CreatedAt
	} else {
		selection.CreatedAt = t.now()
	}
	t.st.selections[key] = *selection
	return nil
}

func (t *memTx) LockSelections(ctx context.Context, userID int64) ([]models.Selection, error) {
	return t.st.userSelections(userID), nil
}

func (t *memTx) ClearSelections(ctx context.Context, userID int64) error {
	for key := range t.st.selections {
		if key.userID == userID {
			delete(t.st.selections, key)
		}
	}
	return nil
}

func (t *memTx) InsertVariant(ctx context.Context, variant *models.Variant) error {
	now := t.now()
	variant.ID = t.st.nextID()
	variant.CreatedAt = now
	variant.UpdatedAt = now
	variant.Version = 1
	t.st.variants[variant.ID] = *variant
	if entry := models.OpeningStockEntry(variant); entry != nil {
		return t.InsertInventoryLog(ctx, entry)
	}
	return nil
}

func (t *memTx) LockVariants(ctx context.Context, variantIDs []int64) (map[int64]*models.Variant, error) {
	return t.st.variantsByID(variantIDs), nil
}

func (t *memTx) AdjustStock(ctx context.Context, variantID int64, delta int) (int, int, error) {
	v, ok := t.st.variants[variantID]
	if !ok {
		return 0, 0, database.ErrNotFound
	}
	previous := v.QuantityOnHand
	if previous+delta < 0 {
		return 0, 0, database.ErrInsufficientStock
	}
	v.QuantityOnHand = previous + delta
	v.UpdatedAt = t.now()
	v.Version++
	t.st.variants[variantID] = v
	return previous, v.QuantityOnHand, nil
}

func (t *memTx) InsertInventoryLog(ctx context.Context, entry *models.InventoryLogEntry) error {
	entry.ID = t.st.nextID()
	entry.CreatedAt = t.now()
	t.st.inventoryLog = append(t.st.inventoryLog, *entry)
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	for _, o := range t.st.orders {
		if o.OrderNumber == order.OrderNumber {
			return database.ErrDuplicateOrderNumber
		}
	}
	now := t.now()
	order.ID = t.st.nextID()
	order.CreatedAt = now
	order.UpdatedAt = now
	order.Version = 1
	stored := *order
	stored.Items = nil
	stored.Payment = nil
	t.st.orders[order.ID] = stored
	return nil
}

func (t *memTx) InsertOrderItem(ctx context.Context, item *models.OrderItem) error {
	if _, ok := t.st.orders[item.OrderID]; !ok {
		return database.ErrNotFound
	}
	item.ID = t.st.nextID()
	item.CreatedAt = t.now()
	t.st.orderItems[item.OrderID] = append(t.st.orderItems[item.OrderID], *item)
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &o, nil
}

func (t *memTx) OrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	items := t.st.orderItems[orderID]
	out := make([]models.OrderItem, len(items))
	copy(out, items)
	return out, nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus, trackingNumber *string) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return database.ErrNotFound
	}
	o.Status = status
	if trackingNumber != nil {
		tn := *trackingNumber
		o.TrackingNumber = &tn
	}
	o.UpdatedAt = t.now()
	o.Version++
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) MarkOrderCancelled(ctx context.Context, orderID int64, reason string, at time.Time) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return database.ErrNotFound
	}
	o.Status = models.OrderStatusCancelled
	o.CancelReason = &reason
	o.CancelledAt = &at
	o.UpdatedAt = t.now()
	o.Version++
	t.st.orders[orderID] = o
	return nil
}

func (t *memTx) PaymentExists(ctx context.Context, gatewayPaymentID string) (bool, error) {
	_, ok := t.st.paymentsByGW[gatewayPaymentID]
	return ok, nil
}

func (t *memTx) InsertPayment(ctx context.Context, payment *models.PaymentRecord) error {
	if _, ok := t.st.paymentsByGW[payment.GatewayPaymentID]; ok {
		return database.ErrDuplicatePayment
	}
	now := t.now()
	payment.ID = t.st.nextID()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	t.st.payments[payment.ID] = *payment
	t.st.paymentsByGW[payment.GatewayPaymentID] = payment.ID
	return nil
}

func (t *memTx) SetPaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) error {
	found := false
	for id, p := range t.st.payments {
		if p.OrderID == orderID {
			p.Status = status
			p.UpdatedAt = t.now()
			t.st.payments[id] = p
			found = true
		}
	}
	if !found {
		return database.ErrNotFound
	}
	return nil
}

func (t *memTx) InsertCoupon(ctx context.Context, coupon *models.Coupon) error {
	coupon.ID = t.st.nextID()
	coupon.CreatedAt = t.now()
	t.st.coupons[coupon.ID] = *coupon
	return nil
}

func (t *memTx) CouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return t.st.couponByCode(code)
}

func (t *memTx) InsertPartner(ctx context.Context, partner *models.Partner) error {
	partner.ID = t.st.nextID()
	partner.CreatedAt = t.now()
	t.st.partners[partner.ID] = *partner
	return nil
}

func (t *memTx) AssignCouponPartner(ctx context.Context, assignment *models.CouponPartnerAssignment) error {
	if _, ok := t.st.coupons[assignment.CouponID]; !ok {
		return database.ErrNotFound
	}
	if _, ok := t.st.partners[assignment.PartnerID]; !ok {
		return database.ErrNotFound
	}
	key := pairKey{a: assignment.CouponID, b: assignment.PartnerID}
	if _, ok := t.st.couponPartners[key]; ok {
		return database.ErrDuplicateAssignment
	}
	assignment.ID = t.st.nextID()
	assignment.CreatedAt = t.now()
	t.st.couponPartners[key] = *assignment
	return nil
}

func (t *memTx) CouponPartners(ctx context.Context, couponID int64) ([]models.CouponPartnerAssignment, error) {
	var assignments []models.CouponPartnerAssignment
	for key, a := range t.st.couponPartners {
		if key.a == couponID {
			assignments = append(assignments, a)
		}
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].PartnerID < assignments[j].PartnerID })
	return assignments, nil
}

func (t *memTx) InsertPartnerEarning(ctx context.Context, earning *models.PartnerEarning) (bool, error) {
	key := pairKey{a: earning.PartnerID, b: earning.OrderID}
	if _, ok := t.st.earnings[key]; ok {
		return false, nil
	}
	earning.ID = t.st.nextID()
	earning.CreatedAt = t.now()
	t.st.earnings[key] = *earning
	return true, nil
}
