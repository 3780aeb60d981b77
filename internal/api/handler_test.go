package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/auth"
	"github.com/safar/settlement-core/internal/commission"
	"github.com/safar/settlement-core/internal/inventory"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/notify"
	"github.com/safar/settlement-core/internal/orders"
	"github.com/safar/settlement-core/internal/payment"
	"github.com/safar/settlement-core/internal/store/memstore"
	"github.com/safar/settlement-core/internal/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubGateway struct{}

func (stubGateway) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*payment.GatewayOrder, error) {
	return &payment.GatewayOrder{ID: "order_stub", Amount: payment.ToMinorUnits(amount), Currency: currency, Receipt: receipt}, nil
}

func (stubGateway) FetchPayment(ctx context.Context, gatewayPaymentID string) (*payment.GatewayPayment, error) {
	return nil, errors.New("gateway offline")
}

type testServer struct {
	router  *gin.Engine
	st      *memstore.Store
	issuer  *auth.Issuer
	signer  *payment.Signer
	user    models.User
	address models.Address
	variant models.Variant
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memstore.New()
	pricing := orders.Pricing{TaxPercent: decimal.NewFromInt(5), ShippingCost: decimal.NewFromInt(50), Currency: "INR"}
	engine := orders.NewEngine(st, pricing, orders.CouponPolicy{}, notify.LogSender{})
	commissions := commission.NewEngine(st)
	signer := payment.NewSigner("test_secret")
	issuer := auth.NewIssuer("jwt_secret", time.Hour)

	h := &Handler{
		Gate:       payment.NewGate(signer, st, stubGateway{}, engine, "rzp_test_key"),
		Lifecycle:  orders.NewLifecycle(st, commissions, notify.LogSender{}),
		Orders:     st,
		Commission: commissions,
		Ledger:     inventory.NewLedger(st),
		Issuer:     issuer,
	}

	user, addr := storetest.Shopper(t, st)
	return &testServer{
		router:  NewRouter(h, []string{"http://localhost:5173"}),
		st:      st,
		issuer:  issuer,
		signer:  signer,
		user:    user,
		address: addr,
		variant: storetest.Variant(t, st, "100", 10),
	}
}

func (s *testServer) token(t *testing.T, userID int64, role string, partnerID *int64) string {
	t.Helper()
	token, err := s.issuer.GenerateToken(userID, role, partnerID)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) verify(t *testing.T, token, paymentID string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/payments/verify", token, gin.H{
		"gatewayOrderId":   "order_stub",
		"gatewayPaymentId": paymentID,
		"signature":        s.signer.Sign("order_stub", paymentID),
		"addressId":        s.address.ID,
	})
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/orders", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		Role: auth.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("jwt_secret"))
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/orders", noSubject, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	customer := s.token(t, s.user.ID, auth.RoleCustomer, nil)
	w = s.do(t, http.MethodPost, "/admin/commissions/backfill", customer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/partner/earnings", customer, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, s.user.ID, auth.RoleCustomer, nil)
	storetest.Select(t, s.st, s.user.ID, s.variant.ID, 2)

	w := s.do(t, http.MethodPost, "/payments/intent", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	intent := decode(t, w)
	assert.Equal(t, "order_stub", intent["gatewayOrderId"])
	assert.EqualValues(t, 26000, intent["amount"])

	w = s.verify(t, token, "pay_http")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	placed := decode(t, w)
	assert.Equal(t, "pay_http", placed["paymentId"])
	assert.NotEmpty(t, placed["orderNumber"])

	w = s.verify(t, token, "pay_http")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(apperrors.KindDuplicatePayment), decode(t, w)["kind"])

	w = s.do(t, http.MethodGet, "/orders?limit=5", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode(t, w)
	assert.Len(t, page["items"], 1)
	assert.Equal(t, false, page["has_more"])
}

func TestVerifyErrors(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, s.user.ID, auth.RoleCustomer, nil)

	w := s.do(t, http.MethodPost, "/payments/verify", token, gin.H{
		"gatewayOrderId":   "order_stub",
		"gatewayPaymentId": "pay_forged",
		"signature":        "deadbeef",
		"addressId":        s.address.ID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperrors.KindInvalidSignature), decode(t, w)["kind"])

	w = s.verify(t, token, "pay_empty")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperrors.KindEmptySelection), decode(t, w)["kind"])

	w = s.do(t, http.MethodPost, "/payments/verify", token, gin.H{"gatewayOrderId": "order_stub"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperrors.KindValidation), decode(t, w)["kind"])

	storetest.Select(t, s.st, s.user.ID, s.variant.ID, 11)
	w = s.verify(t, token, "pay_greedy")
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, string(apperrors.KindInsufficientStock), body["kind"])
	details := body["details"].(map[string]any)
	assert.EqualValues(t, 10, details["available"])
}

func TestOrderAccessAndCancel(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, s.user.ID, auth.RoleCustomer, nil)
	admin := s.token(t, 999, auth.RoleAdmin, nil)
	stranger, _ := storetest.Shopper(t, s.st)
	other := s.token(t, stranger.ID, auth.RoleCustomer, nil)

	storetest.Select(t, s.st, s.user.ID, s.variant.ID, 2)
	w := s.verify(t, owner, "pay_cancel")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	orderPath := "/orders/" + idPath(int64(decode(t, w)["orderId"].(float64)))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, orderPath, owner, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, orderPath, other, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/orders/abc", owner, nil).Code)

	w = s.do(t, http.MethodPost, orderPath+"/cancel", owner, gin.H{"reason": "too late"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperrors.KindInvalidTransition), decode(t, w)["kind"])

	w = s.do(t, http.MethodPost, "/admin"+orderPath+"/status", admin, gin.H{"status": "PROCESSING"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, orderPath+"/cancel", owner, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, orderPath+"/cancel", owner, gin.H{"reason": "ordered twice"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, orderPath, owner, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(models.PaymentStatusRefundPending), decode(t, w)["paymentStatus"])

	v, err := s.st.GetVariant(context.Background(), s.variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, v.QuantityOnHand)
}

func TestListOrdersRejectsBadCursor(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, s.user.ID, auth.RoleCustomer, nil)

	w := s.do(t, http.MethodGet, "/orders?cursor=%21%21%21", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/orders?limit=ten", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPartnerEarningsEndpoint(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	coupon := storetest.Coupon(t, s.st, "COACH10", models.DiscountTypePercent, "10")
	partner := storetest.Partner(t, s.st)
	storetest.Assign(t, s.st, coupon.ID, partner.ID, "5")

	storetest.Select(t, s.st, s.user.ID, s.variant.ID, 1)
	owner := s.token(t, s.user.ID, auth.RoleCustomer, nil)
	w := s.do(t, http.MethodPost, "/payments/verify", owner, gin.H{
		"gatewayOrderId":   "order_stub",
		"gatewayPaymentId": "pay_coach",
		"signature":        s.signer.Sign("order_stub", "pay_coach"),
		"addressId":        s.address.ID,
		"couponCode":       "COACH10",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	orderID := int64(decode(t, w)["orderId"].(float64))

	lc := orders.NewLifecycle(s.st, commission.NewEngine(s.st), nil)
	for _, status := range []models.OrderStatus{models.OrderStatusProcessing, models.OrderStatusShipped, models.OrderStatusDelivered} {
		_, err := lc.SetStatus(ctx, orderID, status, nil)
		require.NoError(t, err)
	}

	token := s.token(t, partner.UserID, auth.RolePartner, &partner.ID)
	w = s.do(t, http.MethodGet, "/partner/earnings?period=month", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "month", body["period"])
	assert.Len(t, body["earnings"], 1)
	summary := body["summary"].(map[string]any)
	assert.Equal(t, "4.5", summary["total"])

	w = s.do(t, http.MethodGet, "/partner/earnings?period=decade", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	noPartner := s.token(t, partner.UserID, auth.RolePartner, nil)
	w = s.do(t, http.MethodGet, "/partner/earnings", noPartner, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAdminInventoryAndCoupons(t *testing.T) {
	s := newTestServer(t)
	admin := s.token(t, 1, auth.RoleAdmin, nil)
	variantPath := "/admin/variants/" + idPath(s.variant.ID)

	w := s.do(t, http.MethodPost, variantPath+"/restock", admin, gin.H{"quantity": 5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 15, decode(t, w)["new_quantity"])

	w = s.do(t, http.MethodGet, variantPath+"/ledger", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode(t, w)
	assert.Len(t, report["entries"], 2)
	assert.Equal(t, true, report["consistent"])
	assert.EqualValues(t, 15, report["replayed"])

	w = s.do(t, http.MethodPost, "/admin/variants/9999/restock", admin, gin.H{"quantity": 5})
	assert.Equal(t, http.StatusNotFound, w.Code)

	coupon := storetest.Coupon(t, s.st, "FIT5", models.DiscountTypeFixed, "5")
	partner := storetest.Partner(t, s.st)
	couponPath := "/admin/coupons/" + idPath(coupon.ID) + "/partners"

	w = s.do(t, http.MethodPost, couponPath, admin, gin.H{"partnerId": partner.ID, "commissionPercent": "7.5"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, couponPath, admin, gin.H{"partnerId": partner.ID, "commissionPercent": "7.5"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/admin/commissions/backfill", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["scanned"])
}

func TestStatusFor(t *testing.T) {
	tests := map[apperrors.Kind]int{
		apperrors.KindInvalidSignature:  http.StatusBadRequest,
		apperrors.KindDuplicatePayment:  http.StatusConflict,
		apperrors.KindAddressNotFound:   http.StatusNotFound,
		apperrors.KindInsufficientStock: http.StatusConflict,
		apperrors.KindForbidden:         http.StatusForbidden,
		apperrors.KindGateway:           http.StatusBadGateway,
		apperrors.KindStorage:           http.StatusInternalServerError,
		apperrors.Kind("Unknown"):       http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(kind), string(kind))
	}
}

func idPath(id int64) string {
	return strconv.FormatInt(id, 10)
}
