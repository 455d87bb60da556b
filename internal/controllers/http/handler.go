package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/infra/idempotency"
	"storefront-orders/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

// Cache is the subset of *redis.Client used for order-list caching.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (orderID string, reserved bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

type Handler struct {
	service  *services.OrderService
	cache    Cache
	cacheTTL time.Duration
	idem     IdempotencyStore
}

// NewHandler builds the order handler. cache and idem may be nil.
func NewHandler(s *services.OrderService, cache Cache, cacheTTL time.Duration, idem IdempotencyStore) *Handler {
	return &Handler{service: s, cache: cache, cacheTTL: cacheTTL, idem: idem}
}

func (h *Handler) RegisterRoutes(r gin.IRouter, auth gin.HandlerFunc) {
	orders := r.Group("/orders", auth)
	orders.POST("/create", h.CreateOrder)
	orders.GET("/current_user", h.ListMyOrders)
	orders.GET("/admin/all", h.ListAllOrders)
	orders.PUT("/admin/status/:id", h.UpdateOrderStatus)
	orders.PUT("/cancel/:id", h.CancelOrder)
	orders.GET("/:id", h.GetOrder)
}

func userOrdersKey(userID string) string {
	return "orders:user:" + userID
}

const (
	allOrdersKey            = "orders:all"
	idempotencyWriteTimeout = 2 * time.Second
)

func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.NewError(domain.KindValidation, "%s", err.Error()))
		return
	}

	ctx := c.Request.Context()
	requester := requesterFrom(c)

	idemKey := ""
	if clientKey := strings.TrimSpace(c.GetHeader(idempotency.Header)); clientKey != "" && h.idem != nil {
		idemKey = idempotency.Key(requester.ID, clientKey)
		orderID, reserved, err := h.idem.Reserve(ctx, idemKey)
		switch {
		case err != nil:
			// The key is optional; without the store the order is placed unguarded.
			slog.WarnContext(ctx, "idempotency store unavailable", "key", idemKey, "error", err)
			idemKey = ""
		case !reserved:
			h.replay(c, orderID, requester)
			return
		}
	}

	order, err := h.service.CreateOrder(ctx, requester, req.toInput())
	if err != nil {
		if idemKey != "" {
			if rerr := h.settleKey(ctx, func(ctx context.Context) error { return h.idem.Release(ctx, idemKey) }); rerr != nil {
				slog.WarnContext(ctx, "failed to release idempotency key", "key", idemKey, "error", rerr)
			}
		}
		writeError(c, err)
		return
	}
	if idemKey != "" {
		if err := h.settleKey(ctx, func(ctx context.Context) error { return h.idem.Complete(ctx, idemKey, order.ID) }); err != nil {
			slog.WarnContext(ctx, "failed to record idempotency key", "key", idemKey, "order_id", order.ID, "error", err)
		}
	}

	h.invalidate(order.OwnerID)
	c.JSON(http.StatusCreated, OrderResponse{Success: true, Order: order, Message: "Order created successfully"})
}

// settleKey completes or releases a reserved key even after the client has
// gone away; a key left pending would block retries until it expires.
func (h *Handler) settleKey(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencyWriteTimeout)
	defer cancel()
	return fn(ctx)
}

func (h *Handler) replay(c *gin.Context, orderID string, requester domain.Requester) {
	if orderID == "" {
		writeError(c, domain.NewError(domain.KindConflict, "an order with this idempotency key is already being processed"))
		return
	}
	order, err := h.service.GetOrderById(c.Request.Context(), orderID, requester)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, OrderResponse{Success: true, Order: order, Message: "Order already created"})
}

func (h *Handler) ListMyOrders(c *gin.Context) {
	requester := requesterFrom(c)
	key := userOrdersKey(requester.ID)
	if h.serveCached(c, key) {
		return
	}

	orders, err := h.service.ListOrdersForUser(c.Request.Context(), requester.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.store(c.Request.Context(), key, orders)
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) ListAllOrders(c *gin.Context) {
	requester := requesterFrom(c)
	if !requester.IsAdmin {
		writeError(c, domain.NewError(domain.KindForbidden, "not authorized to list all orders"))
		return
	}
	if h.serveCached(c, allOrdersKey) {
		return
	}

	orders, err := h.service.ListAllOrders(c.Request.Context(), requester)
	if err != nil {
		writeError(c, err)
		return
	}
	h.store(c.Request.Context(), allOrdersKey, orders)
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.GetOrderById(c.Request.Context(), c.Param("id"), requesterFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	order, err := h.service.CancelOrder(c.Request.Context(), c.Param("id"), requesterFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.invalidate(order.OwnerID)
	c.JSON(http.StatusOK, OrderResponse{Success: true, Order: order, Message: "Order cancelled successfully"})
}

func (h *Handler) UpdateOrderStatus(c *gin.Context) {
	var req UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, domain.NewError(domain.KindValidation, "%s", err.Error()))
		return
	}

	order, err := h.service.UpdateOrderStatus(c.Request.Context(), c.Param("id"), domain.OrderStatus(req.OrderStatus), requesterFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	h.invalidate(order.OwnerID)
	c.JSON(http.StatusOK, OrderResponse{Success: true, Order: order, Message: "Order status updated successfully"})
}

func (h *Handler) serveCached(c *gin.Context, key string) bool {
	if h.cache == nil {
		return false
	}
	b, err := h.cache.Get(c.Request.Context(), key).Bytes()
	if err != nil {
		return false
	}
	var orders []domain.Order
	if err := json.Unmarshal(b, &orders); err != nil {
		return false
	}
	c.JSON(http.StatusOK, orders)
	return true
}

func (h *Handler) store(ctx context.Context, key string, orders []domain.Order) {
	if h.cache == nil {
		return
	}
	data, err := json.Marshal(orders)
	if err != nil {
		return
	}
	if err := h.cache.Set(ctx, key, data, h.cacheTTL).Err(); err != nil {
		slog.WarnContext(ctx, "order cache write failed", "key", key, "error", err)
	}
}

// invalidate runs on a fresh context so a client disconnect cannot leave a
// stale list behind.
func (h *Handler) invalidate(ownerID string) {
	if h.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.cache.Del(ctx, userOrdersKey(ownerID), allOrdersKey).Err(); err != nil {
		slog.WarnContext(ctx, "order cache invalidation failed", "owner_id", ownerID, "error", err)
	}
}
