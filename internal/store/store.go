package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/newbihanigroup-creator/khaacho-sub005/internal/models"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// EnsureSchema applies the reference DDL. Intended for development
// environments; production schemas are managed out-of-band.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

// GetCatalog retrieves the full catalog for matching
func (s *Store) GetCatalog(ctx context.Context) ([]models.CatalogItem, error) {
	var items []models.CatalogItem
	err := s.db.SelectContext(ctx, &items, "SELECT * FROM catalog_items ORDER BY id")
	return items, err
}

// GetCatalogItemByID retrieves a catalog item by ID
func (s *Store) GetCatalogItemByID(ctx context.Context, id int64) (*models.CatalogItem, error) {
	var item models.CatalogItem
	err := s.db.GetContext(ctx, &item, "SELECT * FROM catalog_items WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("catalog item not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetRetailerByID retrieves a retailer by ID
func (s *Store) GetRetailerByID(ctx context.Context, id int64) (*models.Retailer, error) {
	var retailer models.Retailer
	err := s.db.GetContext(ctx, &retailer, "SELECT * FROM retailers WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, ErrRetailerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &retailer, nil
}

// GetVendorByID retrieves a vendor by ID
func (s *Store) GetVendorByID(ctx context.Context, id int64) (*models.Vendor, error) {
	var vendor models.Vendor
	err := s.db.GetContext(ctx, &vendor, "SELECT * FROM vendors WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("vendor not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

// OfferCandidate is a vendor offer joined with the vendor fields selection
// needs, fetched in one query per item.
type OfferCandidate struct {
	models.VendorOffer
	VendorName        string  `db:"vendor_name"`
	ReliabilityScore  float64 `db:"reliability_score"`
	ActiveOrderCount  int     `db:"active_order_count"`
	PendingOrderCount int     `db:"pending_order_count"`
	WorkingHoursStart int     `db:"working_hours_start"`
	WorkingHoursEnd   int     `db:"working_hours_end"`
	Timezone          string  `db:"timezone"`
}

// GetOfferCandidates retrieves available offers for an item with vendor data.
// The stock-sufficiency gate is applied by the ranker, not here, so the
// scoring layer owns the eligibility decision.
func (s *Store) GetOfferCandidates(ctx context.Context, itemID int64) ([]OfferCandidate, error) {
	query := `
		SELECT o.id, o.vendor_id, o.catalog_item_id, o.price, o.stock_quantity,
		       o.lead_time_days, o.is_available, o.updated_at,
		       v.name AS vendor_name, v.reliability_score,
		       v.active_order_count, v.pending_order_count,
		       v.working_hours_start, v.working_hours_end, v.timezone
		FROM vendor_offers o
		JOIN vendors v ON v.id = o.vendor_id
		WHERE o.catalog_item_id = $1 AND o.is_available = TRUE
		ORDER BY o.vendor_id`

	var offers []OfferCandidate
	err := s.db.SelectContext(ctx, &offers, query, itemID)
	return offers, err
}

// MarketShares computes each vendor's trailing-window share of assigned order
// volume for an item, derived from order items rather than a cached counter.
func (s *Store) MarketShares(ctx context.Context, itemID int64, since time.Time) (map[int64]float64, error) {
	query := `
		SELECT oi.vendor_id, SUM(oi.quantity) AS volume
		FROM order_items oi
		JOIN orders ord ON ord.id = oi.order_id
		WHERE oi.catalog_item_id = $1
		  AND ord.created_at >= $2
		  AND ord.status NOT IN ($3, $4)
		GROUP BY oi.vendor_id`

	rows := []struct {
		VendorID int64 `db:"vendor_id"`
		Volume   int64 `db:"volume"`
	}{}
	err := s.db.SelectContext(ctx, &rows, query, itemID, since,
		models.OrderStatusCancelled, models.OrderStatusDelayed)
	if err != nil {
		return nil, err
	}

	shares := make(map[int64]float64, len(rows))
	var total int64
	for _, r := range rows {
		total += r.Volume
	}
	if total == 0 {
		return shares, nil
	}
	for _, r := range rows {
		shares[r.VendorID] = float64(r.Volume) / float64(total)
	}
	return shares, nil
}

// VendorResponseStats summarizes a vendor's assignment outcomes over a window.
type VendorResponseStats struct {
	Accepted int `db:"accepted"`
	Rejected int `db:"rejected"`
	TimedOut int `db:"timed_out"`
}

// GetVendorResponseStats aggregates assignment history for score recalculation.
func (s *Store) GetVendorResponseStats(ctx context.Context, vendorID int64, since time.Time) (*VendorResponseStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE response = $3) AS accepted,
			COUNT(*) FILTER (WHERE response = $4) AS rejected,
			COUNT(*) FILTER (WHERE response = $5) AS timed_out
		FROM assignments
		WHERE vendor_id = $1 AND assigned_at >= $2 AND responded_at IS NOT NULL`

	var stats VendorResponseStats
	err := s.db.GetContext(ctx, &stats, query, vendorID, since,
		models.AssignmentAccepted, models.AssignmentRejected, models.AssignmentTimedOut)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// UpdateVendorReliability writes a recomputed reliability score.
func (s *Store) UpdateVendorReliability(ctx context.Context, vendorID int64, score float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE vendors SET reliability_score = $1 WHERE id = $2", score, vendorID)
	return err
}
