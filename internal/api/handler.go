package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"sambatan-service/internal/fulfillment"
	"sambatan-service/internal/sambatan"
	"sambatan-service/internal/service"
	"sambatan-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	pools       *service.PoolService
	orders      *service.OrderService
	fulfillment *service.FulfillmentService
	catalog     *service.CatalogClient
}

// NewHandler creates a new HTTP handler
func NewHandler(pools *service.PoolService, orders *service.OrderService, fulfillmentSvc *service.FulfillmentService, catalog *service.CatalogClient) *Handler {
	return &Handler{
		pools:       pools,
		orders:      orders,
		fulfillment: fulfillmentSvc,
		catalog:     catalog,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/offerings", h.listOfferings)
		v1.GET("/offerings/:id", h.getOffering)

		v1.POST("/pools", h.createPool)
		v1.GET("/pools", h.listPools)
		v1.GET("/pools/:id", h.getPool)
		v1.POST("/pools/:id/join", h.joinPool)
		v1.POST("/pools/:id/leave", h.leavePool)
		v1.POST("/pools/:id/cancel", h.cancelPool)
		v1.PATCH("/pools/:id/deadline", h.updatePoolDeadline)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/transition", h.transitionOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// listOfferings handles listing the offering catalog
func (h *Handler) listOfferings(c *gin.Context) {
	offerings, err := h.catalog.Offerings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list offerings",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"offerings": offerings})
}

// getOffering handles get offering by ID
func (h *Handler) getOffering(c *gin.Context) {
	offering, err := h.catalog.Offering(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Offering not found",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, offering)
}

// createPool handles pool creation
func (h *Handler) createPool(c *gin.Context) {
	var req service.CreatePoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	snap, err := h.pools.CreatePool(c.Request.Context(), &req)
	if err != nil {
		c.JSON(poolErrorStatus(err), gin.H{
			"error":   "Failed to create pool",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, snap)
}

// listPools handles pool listing, optionally filtered by state
func (h *Handler) listPools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pools": h.pools.List(c.Query("state")),
	})
}

// getPool handles get pool status by ID
func (h *Handler) getPool(c *gin.Context) {
	snap, err := h.pools.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Pool not found",
		})
		return
	}
	c.JSON(http.StatusOK, snap)
}

type joinRequest struct {
	BuyerID  string `json:"buyer_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// joinPool handles joins and amends. Rejections carry the live snapshot so
// the client sees how many slots are actually left.
func (h *Handler) joinPool(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	receipt, snap, err := h.pools.Join(
		c.Request.Context(),
		c.Param("id"),
		req.BuyerID,
		req.Quantity,
		c.GetHeader("Idempotency-Key"),
	)
	if err != nil {
		c.JSON(poolErrorStatus(err), gin.H{
			"error":   "Join rejected",
			"details": err.Error(),
			"pool":    snap,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"receipt": receipt,
		"pool":    snap,
	})
}

type leaveRequest struct {
	BuyerID string `json:"buyer_id" binding:"required"`
}

// leavePool handles a buyer releasing their reservation
func (h *Handler) leavePool(c *gin.Context) {
	var req leaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	snap, err := h.pools.Leave(c.Request.Context(), c.Param("id"), req.BuyerID)
	if err != nil {
		c.JSON(poolErrorStatus(err), gin.H{
			"error":   "Leave rejected",
			"details": err.Error(),
			"pool":    snap,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pool": snap})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// cancelPool handles seller-initiated pool cancellation
func (h *Handler) cancelPool(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	snap, err := h.pools.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		c.JSON(poolErrorStatus(err), gin.H{
			"error":   "Cancel rejected",
			"details": err.Error(),
			"pool":    snap,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pool": snap})
}

type deadlineRequest struct {
	Deadline time.Time `json:"deadline" binding:"required"`
}

// updatePoolDeadline moves the join window of a pool nobody has joined yet
func (h *Handler) updatePoolDeadline(c *gin.Context) {
	var req deadlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.pools.UpdateDeadline(c.Request.Context(), c.Param("id"), req.Deadline); err != nil {
		c.JSON(poolErrorStatus(err), gin.H{
			"error":   "Deadline update rejected",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type createOrderRequest struct {
	BuyerID    string `json:"buyer_id" binding:"required"`
	OfferingID string `json:"offering_id" binding:"required"`
	Quantity   int    `json:"quantity" binding:"required,min=1"`
}

// createOrder handles a direct (non-pool) purchase
func (h *Handler) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.fulfillment.CreateDirectOrder(c.Request.Context(), req.BuyerID, req.OfferingID, req.Quantity)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Failed to create order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, order)
}

// listOrders handles listing a buyer's orders
func (h *Handler) listOrders(c *gin.Context) {
	buyerID := c.Query("buyer_id")
	if buyerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "buyer_id query parameter is required",
		})
		return
	}

	orders, err := h.orders.ListByBuyer(c.Request.Context(), buyerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list orders",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, items, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

type transitionRequest struct {
	Action         string `json:"action" binding:"required"`
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"tracking_number"`
	Reason         string `json:"reason"`
	Outcome        string `json:"outcome"`
}

// transitionOrder applies one fulfillment action to an order
func (h *Handler) transitionOrder(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orders.Transition(
		c.Request.Context(),
		c.Param("id"),
		fulfillment.Action(req.Action),
		fulfillment.Payload{
			Carrier:        req.Carrier,
			TrackingNumber: req.TrackingNumber,
			Reason:         req.Reason,
			Outcome:        req.Outcome,
		},
	)
	if err != nil {
		c.JSON(orderErrorStatus(err), gin.H{
			"error":   "Transition rejected",
			"details": err.Error(),
			"order":   order,
		})
		return
	}

	c.JSON(http.StatusOK, order)
}

func poolErrorStatus(err error) int {
	switch {
	case errors.Is(err, sambatan.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sambatan.ErrNoReservation):
		return http.StatusNotFound
	case errors.Is(err, sambatan.ErrOutOfBounds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, sambatan.ErrCapacityExceeded),
		errors.Is(err, sambatan.ErrWindowClosed),
		errors.Is(err, sambatan.ErrInvalidState),
		errors.Is(err, sambatan.ErrDuplicatePool),
		errors.Is(err, sambatan.ErrDeadlineLocked):
		return http.StatusConflict
	case errors.Is(err, sambatan.ErrBadConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func orderErrorStatus(err error) int {
	switch {
	case errors.Is(err, fulfillment.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, fulfillment.ErrMissingShippingInfo),
		errors.Is(err, fulfillment.ErrBadOutcome):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fulfillment.ErrIllegalTransition),
		errors.Is(err, fulfillment.ErrPaymentNotCaptured),
		errors.Is(err, fulfillment.ErrDeadlinePassed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
