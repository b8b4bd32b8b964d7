package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/assignment"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/selection"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/service"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	machine      *assignment.Machine
	store        *store.Store
	maxAttempts  int
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, machine *assignment.Machine, st *store.Store, queueMaxAttempts int) *Handler {
	return &Handler{
		orderService: orderService,
		machine:      machine,
		store:        st,
		maxAttempts:  queueMaxAttempts,
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
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/respond", h.respondToAssignment)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/dispatch", h.dispatchOrder)
		v1.POST("/orders/:id/complete", h.completeOrder)
		v1.POST("/orders/:id/payments", h.recordPayment)

		v1.GET("/retailers/:id/orders", h.listRetailerOrders)

		v1.GET("/deadletters", h.listDeadLetters)
		v1.POST("/deadletters/:id/requeue", h.requeueDeadLetter)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck verifies the database is reachable
func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.store.GetDB().PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeOrderError(c, err)
		return
	}

	if resp.Duplicate {
		c.JSON(http.StatusOK, resp)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// writeOrderError maps domain errors to HTTP statuses: bad input is 400,
// business rejections are 422, lost races are 409.
func (h *Handler) writeOrderError(c *gin.Context, err error) {
	var validationErr *service.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":            validationErr.Message,
			"unmatched_tokens": validationErr.UnmatchedTokens,
		})
		return
	}

	var noVendor *selection.NoEligibleVendorError
	if errors.As(err, &noVendor) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":           "No vendor can fulfill this order",
			"catalog_item_id": noVendor.CatalogItemID,
		})
		return
	}

	var stockErr *store.InsufficientStockError
	if errors.As(err, &stockErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":           "Insufficient stock",
			"catalog_item_id": stockErr.CatalogItemID,
			"available":       stockErr.Available,
			"requested":       stockErr.Requested,
		})
		return
	}

	var creditErr *store.CreditLimitExceededError
	if errors.As(err, &creditErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":        "Credit limit exceeded",
			"outstanding":  creditErr.Outstanding,
			"attempted":    creditErr.Attempted,
			"credit_limit": creditErr.CreditLimit,
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrRetailerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Retailer not found"})
	case errors.Is(err, store.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflicting update, retry the request"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create order",
			"details": err.Error(),
		})
	}
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	detail, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, detail)
}

// respondRequest is a vendor's answer to an assignment.
type respondRequest struct {
	VendorID int64  `json:"vendor_id" binding:"required"`
	Response string `json:"response" binding:"required"`
}

// respondToAssignment records a vendor accept/reject
func (h *Handler) respondToAssignment(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	err := h.machine.HandleResponse(c.Request.Context(), orderID, req.VendorID, req.Response)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "recorded"})
	case errors.Is(err, assignment.ErrInvalidResponse):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, assignment.ErrNoActiveAssignment),
		errors.Is(err, assignment.ErrWrongVendor):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, assignment.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// cancelRequest optionally carries a cancellation reason.
type cancelRequest struct {
	Reason string `json:"reason"`
}

// cancelOrder runs the compensating transaction
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "requested"
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), orderID, req.Reason)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, order)
	case errors.Is(err, store.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, store.ErrOrderNotCancellable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Order is already completed or cancelled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// dispatchOrder moves a confirmed order into delivery
func (h *Handler) dispatchOrder(c *gin.Context) {
	h.transition(c, h.orderService.DispatchOrder)
}

// completeOrder finishes a dispatched order
func (h *Handler) completeOrder(c *gin.Context) {
	h.transition(c, h.orderService.CompleteOrder)
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, orderID int64) error) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	err := fn(c.Request.Context(), orderID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, store.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, store.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": "Order is not in the required state"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// paymentRequest carries a payment amount in minor units.
type paymentRequest struct {
	Amount int64 `json:"amount" binding:"required,min=1"`
}

// recordPayment applies a payment against an order's dues
func (h *Handler) recordPayment(c *gin.Context) {
	orderID, ok := h.orderIDParam(c)
	if !ok {
		return
	}

	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.RecordPayment(c.Request.Context(), orderID, req.Amount)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, order)
	case errors.Is(err, store.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, store.ErrOrderNotPayable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Order is not accepting payments until confirmed"})
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	}
}

// listRetailerOrders returns a retailer's order history
func (h *Handler) listRetailerOrders(c *gin.Context) {
	retailerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid retailer ID"})
		return
	}

	orders, err := h.store.GetOrdersByRetailerID(c.Request.Context(), retailerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// listDeadLetters shows jobs awaiting manual re-drive
func (h *Handler) listDeadLetters(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.store.ListDeadLetters(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_letters": entries})
}

// requeueDeadLetter re-drives one dead-lettered job
func (h *Handler) requeueDeadLetter(c *gin.Context) {
	entryID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dead letter ID"})
		return
	}

	jobID, err := h.store.RequeueDeadLetter(c.Request.Context(), entryID, uuid.New().String(), h.maxAttempts)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID})
}

func (h *Handler) orderIDParam(c *gin.Context) (int64, bool) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return 0, false
	}
	return orderID, true
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
