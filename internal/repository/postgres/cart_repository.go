package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/NeoboundAI/Skiddly-sub000/internal/domain"
	"github.com/NeoboundAI/Skiddly-sub000/internal/repository"
)

// CartRepository implements repository.CartRepository using PostgreSQL.
type CartRepository struct {
	db *sqlx.DB
}

// NewCartRepository constructs the repository.
func NewCartRepository(db *sqlx.DB) *CartRepository {
	return &CartRepository{db: db}
}

const cartColumns = `id, user_id, checkout_id, status, status_reason, total_amount, currency,
	customer_id, customer_name, phone, email, shipping_country, shipping_province,
	discount_codes, line_items, last_activity_at, created_at, updated_at`

// Get fetches a cart by id.
func (r *CartRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Cart, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, id)

	var rec cartRecord
	if err := row.StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("cart repo: get: %w", err)
	}
	cart, err := rec.toDomain()
	if err != nil {
		return nil, fmt.Errorf("cart repo: decode: %w", err)
	}
	return cart, nil
}

// ListInactiveCheckouts returns in_checkout carts inactive since before the cutoff.
func (r *CartRepository) ListInactiveCheckouts(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Cart, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+cartColumns+` FROM carts
		 WHERE status = 'in_checkout' AND last_activity_at < $1
		 ORDER BY last_activity_at ASC
		 LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("cart repo: list inactive: %w", err)
	}
	defer rows.Close()

	var results []*domain.Cart
	for rows.Next() {
		var rec cartRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("cart repo: scan: %w", err)
		}
		cart, err := rec.toDomain()
		if err != nil {
			return nil, fmt.Errorf("cart repo: decode: %w", err)
		}
		results = append(results, cart)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cart repo: rows err: %w", err)
	}
	return results, nil
}

// UpdateStatus flips the cart status and records the reason.
func (r *CartRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.CartStatus, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE carts SET status = $2, status_reason = $3, updated_at = $4 WHERE id = $1`,
		id, status, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cart repo: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cart repo: rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type cartRecord struct {
	ID               uuid.UUID      `db:"id"`
	UserID           uuid.UUID      `db:"user_id"`
	CheckoutID       string         `db:"checkout_id"`
	Status           string         `db:"status"`
	StatusReason     sql.NullString `db:"status_reason"`
	TotalAmount      float64        `db:"total_amount"`
	Currency         string         `db:"currency"`
	CustomerID       sql.NullString `db:"customer_id"`
	CustomerName     sql.NullString `db:"customer_name"`
	Phone            sql.NullString `db:"phone"`
	Email            sql.NullString `db:"email"`
	ShippingCountry  sql.NullString `db:"shipping_country"`
	ShippingProvince sql.NullString `db:"shipping_province"`
	DiscountCodes    []byte         `db:"discount_codes"`
	LineItems        []byte         `db:"line_items"`
	LastActivityAt   time.Time      `db:"last_activity_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

type lineItemJSON struct {
	Title    string  `json:"title"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

func (r cartRecord) toDomain() (*domain.Cart, error) {
	cart := &domain.Cart{
		ID:               r.ID,
		UserID:           r.UserID,
		CheckoutID:       r.CheckoutID,
		Status:           domain.CartStatus(r.Status),
		StatusReason:     r.StatusReason.String,
		TotalAmount:      r.TotalAmount,
		Currency:         r.Currency,
		CustomerName:     r.CustomerName.String,
		Phone:            r.Phone.String,
		Email:            r.Email.String,
		ShippingCountry:  r.ShippingCountry.String,
		ShippingProvince: r.ShippingProvince.String,
		LastActivityAt:   r.LastActivityAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}

	if r.CustomerID.Valid && r.CustomerID.String != "" {
		id := r.CustomerID.String
		cart.CustomerID = &id
	}

	if len(r.DiscountCodes) > 0 {
		if err := json.Unmarshal(r.DiscountCodes, &cart.DiscountCodes); err != nil {
			return nil, fmt.Errorf("discount codes: %w", err)
		}
	}

	if len(r.LineItems) > 0 {
		var items []lineItemJSON
		if err := json.Unmarshal(r.LineItems, &items); err != nil {
			return nil, fmt.Errorf("line items: %w", err)
		}
		for _, item := range items {
			cart.LineItems = append(cart.LineItems, domain.LineItem{
				Title:    item.Title,
				Quantity: item.Quantity,
				Price:    item.Price,
			})
		}
	}

	return cart, nil
}
