package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newbihanigroup-creator/khaacho-sub005/config"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/assignment"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/broker"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/matcher"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/selection"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/store"
	"github.com/newbihanigroup-creator/khaacho-sub005/internal/util"
)

// commitRetries bounds re-runs of select-then-commit when a concurrent order
// invalidates the snapshot the selection was computed on.
const commitRetries = 3

// ValidationError carries everything wrong with a request at once, so a
// multi-line order reports every unmatched token in a single round trip.
type ValidationError struct {
	Message         string   `json:"message"`
	UnmatchedTokens []string `json:"unmatched_tokens,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.UnmatchedTokens) > 0 {
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.UnmatchedTokens, ", "))
	}
	return e.Message
}

// OrderService orchestrates order creation end to end: matching, vendor
// selection, the atomic commit, and the follow-up side effects.
type OrderService struct {
	store     *store.Store
	selector  *selection.Selector
	machine   *assignment.Machine
	publisher *broker.EventPublisher
	cfg       config.TimeoutConfig
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	st *store.Store,
	selector *selection.Selector,
	machine *assignment.Machine,
	publisher *broker.EventPublisher,
	cfg config.TimeoutConfig,
) *OrderService {
	return &OrderService{
		store:     st,
		selector:  selector,
		machine:   machine,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.NamedLogger("orders"),
	}
}

// OrderLineRequest is one free-text line of an incoming order.
type OrderLineRequest struct {
	Token    string `json:"token" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	RetailerID     int64              `json:"retailer_id" binding:"required"`
	Lines          []OrderLineRequest `json:"lines" binding:"required,min=1"`
	CashOnly       bool               `json:"cash_only"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID     int64                `json:"order_id"`
	Status      string               `json:"status"`
	VendorID    int64                `json:"vendor_id,omitempty"`
	TotalAmount int64                `json:"total_amount"`
	TimeoutAt   *time.Time           `json:"timeout_at,omitempty"`
	Matches     []matcher.LineResult `json:"matches,omitempty"`
	Duplicate   bool                 `json:"duplicate,omitempty"`
}

// CreateOrder runs the full intake pipeline: idempotency check, token
// matching, vendor selection, and the atomic commit. Selection and commit
// retry together when a concurrent order changes stock or credit underneath
// them.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		return &CreateOrderResponse{
			OrderID:     existing.ID,
			Status:      existing.Status,
			TotalAmount: existing.TotalAmount,
			Duplicate:   true,
		}, nil
	}

	if _, err := s.store.GetRetailerByID(ctx, req.RetailerID); err != nil {
		if errors.Is(err, store.ErrRetailerNotFound) {
			util.OrdersFailedTotal.WithLabelValues("unknown_retailer").Inc()
		}
		return nil, err
	}

	lines, matches, err := s.resolveLines(ctx, req.Lines)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("unmatched_tokens").Inc()
		return nil, err
	}

	var order *models.Order
	var assigned *models.Assignment
	for attempt := 0; ; attempt++ {
		sel, err := s.selector.PickVendor(ctx, lines, nil)
		if err != nil {
			var noVendor *selection.NoEligibleVendorError
			if errors.As(err, &noVendor) {
				util.OrdersFailedTotal.WithLabelValues("no_eligible_vendor").Inc()
			}
			return nil, err
		}

		items := make([]store.CommitItem, 0, len(lines))
		for _, line := range lines {
			items = append(items, store.CommitItem{
				CatalogItemID: line.CatalogItemID,
				VendorOfferID: sel.OfferPerItem[line.CatalogItemID].Offer.ID,
				Quantity:      line.Quantity,
			})
		}

		start := time.Now()
		order, assigned, err = s.store.CommitOrder(ctx, store.CommitRequest{
			RetailerID:      req.RetailerID,
			VendorID:        sel.VendorID,
			CashOnly:        req.CashOnly,
			IdempotencyKey:  req.IdempotencyKey,
			Items:           items,
			ResponseTimeout: time.Duration(s.cfg.ResponseTimeoutMinutes) * time.Minute,
		})
		util.CommitLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			break
		}

		if errors.Is(err, store.ErrConcurrentModification) && attempt < commitRetries {
			// Stale snapshot; rerun selection against current state.
			util.CommitRetriesTotal.Inc()
			s.logger.Warn("Commit conflicted, reselecting",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}

		var stockErr *store.InsufficientStockError
		if errors.As(err, &stockErr) && attempt < commitRetries {
			// The chosen vendor sold out between selection and commit; other
			// vendors may still cover the order.
			util.CommitRetriesTotal.Inc()
			s.logger.Warn("Selected vendor out of stock, reselecting",
				zap.Int64("vendor_offer_id", stockErr.VendorOfferID),
				zap.Int("attempt", attempt+1))
			continue
		}

		var creditErr *store.CreditLimitExceededError
		if errors.As(err, &creditErr) {
			util.OrdersFailedTotal.WithLabelValues("credit_limit").Inc()
		} else if errors.As(err, &stockErr) {
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		} else {
			util.OrdersFailedTotal.WithLabelValues("commit_error").Inc()
		}
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	for _, m := range matches {
		if m.Match != nil {
			util.MatchConfidence.Observe(m.Match.Confidence)
		}
	}
	s.logger.Info("Order committed",
		zap.Int64("order_id", order.ID),
		zap.Int64("retailer_id", order.RetailerID),
		zap.Int64("vendor_id", assigned.VendorID),
		zap.Int64("total_amount", order.TotalAmount),
		zap.Bool("cash_only", order.CashOnly))

	items, err := s.store.GetOrderItems(ctx, order.ID)
	if err != nil {
		s.logger.Error("Failed to load items for event", zap.Error(err))
	}
	if err := s.publisher.PublishOrderCreated(ctx, order, items); err != nil {
		s.logger.Error("Failed to publish order created event", zap.Error(err))
	}
	if err := s.publisher.PublishOrderAssigned(ctx, assigned); err != nil {
		s.logger.Error("Failed to publish order assigned event", zap.Error(err))
	}
	s.machine.EnqueueAssignmentJobs(ctx, assigned)

	return &CreateOrderResponse{
		OrderID:     order.ID,
		Status:      order.Status,
		VendorID:    assigned.VendorID,
		TotalAmount: order.TotalAmount,
		TimeoutAt:   &assigned.TimeoutAt,
		Matches:     matches,
	}, nil
}

// resolveLines matches every token against the catalog and folds duplicate
// tokens resolving to the same item into one line.
func (s *OrderService) resolveLines(ctx context.Context, reqLines []OrderLineRequest) ([]selection.LineRequirement, []matcher.LineResult, error) {
	catalog, err := s.store.GetCatalog(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	tokens := make([]string, 0, len(reqLines))
	for _, line := range reqLines {
		tokens = append(tokens, line.Token)
	}
	matches, unmatched := matcher.MatchAll(tokens, catalog)
	if len(unmatched) > 0 {
		for range unmatched {
			util.UnmatchedTokensTotal.Inc()
		}
		return nil, matches, &ValidationError{
			Message:         "unrecognized items",
			UnmatchedTokens: unmatched,
		}
	}

	return foldLines(reqLines, matches), matches, nil
}

// foldLines merges request lines whose tokens resolved to the same catalog
// item, preserving first-seen order. matches[i] must correspond to
// reqLines[i] and every match must be non-nil.
func foldLines(reqLines []OrderLineRequest, matches []matcher.LineResult) []selection.LineRequirement {
	quantities := make(map[int64]int)
	order := make([]int64, 0, len(reqLines))
	for i, line := range reqLines {
		itemID := matches[i].Match.Item.ID
		if _, seen := quantities[itemID]; !seen {
			order = append(order, itemID)
		}
		quantities[itemID] += line.Quantity
	}

	lines := make([]selection.LineRequirement, 0, len(order))
	for _, itemID := range order {
		lines = append(lines, selection.LineRequirement{
			CatalogItemID: itemID,
			Quantity:      quantities[itemID],
		})
	}
	return lines
}

// OrderDetail is the full read model for one order.
type OrderDetail struct {
	Order       *models.Order        `json:"order"`
	Items       []models.OrderItem   `json:"items"`
	Assignments []models.Assignment  `json:"assignments"`
	Ledger      []models.LedgerEntry `json:"ledger,omitempty"`
}

// GetOrder returns an order with its items and assignment history.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	assignments, err := s.store.GetAssignmentHistory(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &OrderDetail{Order: order, Items: items, Assignments: assignments}, nil
}

// CancelOrder runs the compensating transaction and publishes the event.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CancelOrder")
	defer span.End()

	order, err := s.store.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("reason", reason))

	if err := s.publisher.PublishOrderCancelled(ctx, orderID, reason); err != nil {
		s.logger.Error("Failed to publish order cancelled event", zap.Error(err))
	}
	return order, nil
}

// DispatchOrder moves a confirmed order into delivery.
func (s *OrderService) DispatchOrder(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.DispatchOrder")
	defer span.End()
	return s.store.MarkOrderDispatched(ctx, orderID)
}

// CompleteOrder finishes a dispatched order and frees the vendor's slot.
func (s *OrderService) CompleteOrder(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.CompleteOrder")
	defer span.End()

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return store.ErrOrderNotFound
	}
	return s.store.MarkOrderCompleted(ctx, orderID, items[0].VendorID)
}

// RecordPayment applies a payment against an order's dues.
func (s *OrderService) RecordPayment(ctx context.Context, orderID, amount int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RecordPayment")
	defer span.End()

	order, err := s.store.RecordPayment(ctx, orderID, amount)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Payment recorded",
		zap.Int64("order_id", orderID),
		zap.Int64("amount", amount),
		zap.Int64("remaining_due", order.DueAmount))
	return order, nil
}
