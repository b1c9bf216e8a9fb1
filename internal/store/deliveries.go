package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DeliveryRepo deduplicates inbound webhook deliveries. WooCommerce retries a
// delivery with the same ID until it receives a 2xx response.
type DeliveryRepo interface {
	// RecordDelivery stores the delivery ID. It returns false when the ID was
	// already recorded.
	RecordDelivery(ctx context.Context, deliveryID, topic string) (bool, error)

	// MarkDeliveryProcessed sets the processed_at timestamp for a delivery.
	MarkDeliveryProcessed(ctx context.Context, deliveryID string) error

	// ForgetDelivery removes a delivery whose processing failed so the
	// sender's retry is accepted.
	ForgetDelivery(ctx context.Context, deliveryID string) error
}

func (s *sqlStore) RecordDelivery(ctx context.Context, deliveryID, topic string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO webhook_deliveries (delivery_id, topic, received_at)
		VALUES (?, ?, ?) ON CONFLICT (delivery_id) DO NOTHING`),
		deliveryID, topic, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record delivery failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		slog.Debug(s.name+".RecordDelivery: duplicate", "deliveryID", deliveryID, "topic", topic)
		return false, nil
	}
	return true, nil
}

func (s *sqlStore) MarkDeliveryProcessed(ctx context.Context, deliveryID string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE webhook_deliveries SET processed_at = ? WHERE delivery_id = ?`),
		time.Now().UTC(), deliveryID,
	)
	if err != nil {
		return fmt.Errorf("mark delivery processed failed: %w", err)
	}
	return nil
}

func (s *sqlStore) ForgetDelivery(ctx context.Context, deliveryID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM webhook_deliveries WHERE delivery_id = ?`), deliveryID)
	if err != nil {
		return fmt.Errorf("forget delivery failed: %w", err)
	}
	return nil
}
