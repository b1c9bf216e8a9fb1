package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/util"
	"github.com/google/uuid"
)

// CreateCart inserts a new cart. Missing ID, token and timestamps are filled in.
func (s *sqlStore) CreateCart(ctx context.Context, cart *models.AbandonedCart) error {
	if cart.ID == "" {
		cart.ID = util.GenerateCartID()
	}
	if cart.RecoveryToken == "" {
		cart.RecoveryToken = uuid.NewString()
	}
	if cart.Status == "" {
		cart.Status = models.CartStatusActive
	}
	now := time.Now().UTC()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = cart.CreatedAt
	}
	if cart.Items == nil {
		cart.Items = []models.LineItem{}
	}
	itemsJSON, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("encode cart items: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO abandoned_carts (`+cartColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		cart.ID, nilIfEmpty(cart.SessionID), nilIfEmpty(cart.UserID), cart.FirstName, cart.LastName,
		nilIfEmpty(cart.Phone), nilIfEmpty(cart.Email), cart.Address1, cart.Address2, cart.City, cart.State,
		cart.Postcode, cart.Country, string(itemsJSON), cart.Total, cart.Currency, string(cart.Status),
		cart.MessagesSent.String(), cart.RecoveryToken, nilIfEmpty(cart.OrderID),
		cart.CreatedAt.UTC(), cart.UpdatedAt.UTC(), nullTime(cart.RecoveredAt),
	)
	if err != nil {
		slog.Error(s.name+" CreateCart failed", "error", err, "id", cart.ID)
		return fmt.Errorf("failed to insert cart %s: %w", cart.ID, err)
	}
	slog.Debug(s.name+" CreateCart succeeded", "id", cart.ID)
	return nil
}

// UpdateCart rewrites the contact fields, items and total of an existing cart.
// Status, sent flags and the recovery token are changed through their own methods.
func (s *sqlStore) UpdateCart(ctx context.Context, cart *models.AbandonedCart) error {
	itemsJSON, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("encode cart items: %w", err)
	}
	if cart.UpdatedAt.IsZero() {
		cart.UpdatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE abandoned_carts SET
		session_id = ?, user_id = ?, first_name = ?, last_name = ?, phone = ?, email = ?,
		address_1 = ?, address_2 = ?, city = ?, state = ?, postcode = ?, country = ?,
		items_json = ?, total = ?, currency = ?, updated_at = ?
		WHERE id = ?`),
		nilIfEmpty(cart.SessionID), nilIfEmpty(cart.UserID), cart.FirstName, cart.LastName,
		nilIfEmpty(cart.Phone), nilIfEmpty(cart.Email), cart.Address1, cart.Address2, cart.City,
		cart.State, cart.Postcode, cart.Country, string(itemsJSON), cart.Total, cart.Currency,
		cart.UpdatedAt.UTC(), cart.ID,
	)
	if err != nil {
		slog.Error(s.name+" UpdateCart failed", "error", err, "id", cart.ID)
		return fmt.Errorf("failed to update cart %s: %w", cart.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update cart %s: %w", cart.ID, sql.ErrNoRows)
	}
	slog.Debug(s.name+" UpdateCart succeeded", "id", cart.ID)
	return nil
}

func (s *sqlStore) getCartWhere(ctx context.Context, where string, args ...interface{}) (*models.AbandonedCart, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+cartColumns+` FROM abandoned_carts WHERE `+where), args...)
	c, err := scanCart(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqlStore) GetCart(ctx context.Context, id string) (*models.AbandonedCart, error) {
	c, err := s.getCartWhere(ctx, `id = ?`, id)
	if err != nil {
		slog.Error(s.name+" GetCart failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get cart %s: %w", id, err)
	}
	return c, nil
}

func (s *sqlStore) GetCartByToken(ctx context.Context, token string) (*models.AbandonedCart, error) {
	if token == "" {
		return nil, nil
	}
	c, err := s.getCartWhere(ctx, `recovery_token = ?`, token)
	if err != nil {
		slog.Error(s.name+" GetCartByToken failed", "error", err)
		return nil, fmt.Errorf("failed to get cart by token: %w", err)
	}
	return c, nil
}

func (s *sqlStore) FindActiveCart(ctx context.Context, phone, email, sessionID string) (*models.AbandonedCart, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{"phone", phone},
		{"email", email},
		{"session_id", sessionID},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		c, err := s.getCartWhere(ctx, l.column+` = ? AND status = ? ORDER BY updated_at DESC LIMIT 1`,
			l.value, string(models.CartStatusActive))
		if err != nil {
			slog.Error(s.name+" FindActiveCart failed", "error", err, "by", l.column)
			return nil, fmt.Errorf("failed to find active cart by %s: %w", l.column, err)
		}
		if c != nil {
			slog.Debug(s.name+" FindActiveCart matched", "by", l.column, "id", c.ID)
			return c, nil
		}
	}
	return nil, nil
}

func (s *sqlStore) listCarts(ctx context.Context, query string, args ...interface{}) ([]models.AbandonedCart, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var carts []models.AbandonedCart
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		carts = append(carts, c)
	}
	return carts, rows.Err()
}

func (s *sqlStore) ListCartsByStatus(ctx context.Context, status models.CartStatus, limit int) ([]models.AbandonedCart, error) {
	query := `SELECT ` + cartColumns + ` FROM abandoned_carts`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	carts, err := s.listCarts(ctx, query, args...)
	if err != nil {
		slog.Error(s.name+" ListCartsByStatus failed", "error", err, "status", status)
		return nil, fmt.Errorf("failed to list carts: %w", err)
	}
	slog.Debug(s.name+" ListCartsByStatus succeeded", "status", status, "count", len(carts))
	return carts, nil
}

func (s *sqlStore) ActiveCartsByPhone(ctx context.Context, phone string) ([]models.AbandonedCart, error) {
	if phone == "" {
		return nil, nil
	}
	carts, err := s.listCarts(ctx, `SELECT `+cartColumns+` FROM abandoned_carts
		WHERE phone = ? AND status = ? ORDER BY created_at ASC`, phone, string(models.CartStatusActive))
	if err != nil {
		slog.Error(s.name+" ActiveCartsByPhone failed", "error", err)
		return nil, fmt.Errorf("failed to list carts by phone: %w", err)
	}
	return carts, nil
}

func (s *sqlStore) SetMessageSent(ctx context.Context, id string, flags models.SentFlags, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`UPDATE abandoned_carts SET messages_sent = ?, updated_at = ? WHERE id = ?`),
		flags.String(), at.UTC(), id)
	if err != nil {
		slog.Error(s.name+" SetMessageSent failed", "error", err, "id", id)
		return fmt.Errorf("failed to update sent flags of cart %s: %w", id, err)
	}
	slog.Debug(s.name+" SetMessageSent succeeded", "id", id, "messages_sent", flags.String())
	return nil
}

func (s *sqlStore) MarkCartRecovered(ctx context.Context, id, orderID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE abandoned_carts
		SET status = ?, order_id = ?, recovered_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		string(models.CartStatusRecovered), nilIfEmpty(orderID), at.UTC(), at.UTC(), id, string(models.CartStatusActive))
	if err != nil {
		slog.Error(s.name+" MarkCartRecovered failed", "error", err, "id", id)
		return false, fmt.Errorf("failed to mark cart %s recovered: %w", id, err)
	}
	n, _ := res.RowsAffected()
	slog.Debug(s.name+" MarkCartRecovered", "id", id, "orderID", orderID, "changed", n > 0)
	return n > 0, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
