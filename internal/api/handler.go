// Package api exposes the settlement core over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/safar/settlement-core/internal/apperrors"
	"github.com/safar/settlement-core/internal/auth"
	"github.com/safar/settlement-core/internal/commission"
	"github.com/safar/settlement-core/internal/inventory"
	"github.com/safar/settlement-core/internal/models"
	"github.com/safar/settlement-core/internal/orders"
	"github.com/safar/settlement-core/internal/payment"
	"github.com/safar/settlement-core/internal/store"
)

// OrderLister is the read side used for order history.
type OrderLister interface {
	ListOrdersCursor(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error)
}

// Handler holds every dependency the routes need; nothing is global.
type Handler struct {
	Gate       *payment.Gate
	Lifecycle  *orders.Lifecycle
	Orders     OrderLister
	Commission *commission.Engine
	Ledger     *inventory.Ledger
	Issuer     *auth.Issuer
	Now        func() time.Time
}

func NewRouter(h *Handler, allowedOrigins []string) *gin.Engine {
	if h.Now == nil {
		h.Now = time.Now
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/")
	api.Use(AuthMiddleware(h.Issuer))
	{
		api.POST("/payments/intent", h.CreatePaymentIntent)
		api.POST("/payments/verify", h.VerifyPayment)

		api.GET("/orders", h.ListOrders)
		api.GET("/orders/:id", h.GetOrder)
		api.POST("/orders/:id/cancel", h.CancelOrder)

		partner := api.Group("/partner")
		partner.Use(RequireRole(auth.RolePartner))
		{
			partner.GET("/earnings", h.PartnerEarnings)
		}

		admin := api.Group("/admin")
		admin.Use(RequireRole(auth.RoleAdmin))
		{
			admin.POST("/orders/:id/status", h.SetOrderStatus)
			admin.POST("/commissions/backfill", h.BackfillCommissions)
			admin.POST("/variants/:id/restock", h.RestockVariant)
			admin.GET("/variants/:id/ledger", h.VariantLedger)
			admin.POST("/coupons/:id/partners", h.AssignCouponPartner)
		}
	}

	return r
}

func actorFrom(c *gin.Context) orders.Actor {
	return orders.Actor{
		UserID: c.GetInt64(ctxUserID),
		Admin:  c.GetString(ctxRole) == auth.RoleAdmin,
	}
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, apperrors.Validation("invalid "+name).With(name, c.Param(name)))
		return 0, false
	}
	return id, true
}

func orderView(o *models.Order) gin.H {
	view := gin.H{"order": o}
	if o.Payment != nil {
		view["paymentStatus"] = o.Payment.Status
	}
	return view
}
