// Package notify sends transactional order-status messages through the
// durable job queue.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
	"github.com/BTreeMap/CartPipe/internal/template"
	"github.com/BTreeMap/CartPipe/internal/util"
)

// JobKind is the job kind of order notifications.
const JobKind = "order_notification"

// Errors returned by Handle.
var (
	ErrEmptyMessage  = errors.New("order notification rendered empty")
	ErrNoCredentials = errors.New("vendor credentials are not configured")
)

// Messenger delivers a message through the named provider.
type Messenger interface {
	Send(ctx context.Context, provider models.Provider, to, body string) (string, error)
}

// SettingsLoader returns the current runtime settings.
type SettingsLoader interface {
	Load(ctx context.Context) (models.Settings, error)
}

// Payload is the JSON stored with each notification job.
type Payload struct {
	Order models.Order `json:"order"`
	Phone string       `json:"phone"`
}

// Notifier enqueues and delivers order-status notifications.
type Notifier struct {
	jobs      store.JobRepo
	settings  SettingsLoader
	messenger Messenger
	now       func() time.Time
}

// NewNotifier creates a Notifier.
func NewNotifier(jobs store.JobRepo, settings SettingsLoader, messenger Messenger) *Notifier {
	return &Notifier{jobs: jobs, settings: settings, messenger: messenger, now: time.Now}
}

// DedupeKey identifies the single notification an order gets per status.
func DedupeKey(orderID, status string) string {
	return "order:" + orderID + ":" + status
}

// Enqueue schedules a notification for the order's current status. It returns
// the job ID, or "" when nothing was queued.
func (n *Notifier) Enqueue(ctx context.Context, order *models.Order) (string, error) {
	if order == nil || order.ID == "" {
		return "", nil
	}
	st, err := n.settings.Load(ctx)
	if err != nil {
		return "", err
	}
	if !st.OrderNotifications.Enabled {
		return "", nil
	}
	if st.OrderNotifications.Template(order.Status) == "" {
		slog.Debug("Notifier.Enqueue: no template for status", "order", order.ID, "status", order.Status)
		return "", nil
	}
	if order.Phone == "" {
		slog.Debug("Notifier.Enqueue: order has no phone", "order", order.ID)
		return "", nil
	}
	phone, err := util.CanonicalizePhone(order.Phone, st.DefaultCountryCode)
	if err != nil {
		slog.Warn("Notifier.Enqueue: invalid phone", "order", order.ID, "error", err)
		return "", nil
	}

	key := DedupeKey(order.ID, order.Status)
	prev, err := n.jobs.LatestJobByDedupeKey(ctx, key)
	if err != nil {
		return "", err
	}
	if prev != nil {
		switch prev.Status {
		case store.JobStatusQueued, store.JobStatusRunning, store.JobStatusDone:
			slog.Debug("Notifier.Enqueue: already notified", "order", order.ID, "status", order.Status, "job", prev.ID)
			return "", nil
		}
	}

	payload, err := json.Marshal(Payload{Order: *order, Phone: phone})
	if err != nil {
		return "", fmt.Errorf("encode notification payload: %w", err)
	}
	id, err := n.jobs.EnqueueJob(ctx, JobKind, n.now(), string(payload), key)
	if err != nil {
		slog.Error("Notifier.Enqueue: enqueue failed", "order", order.ID, "error", err)
		return "", err
	}
	slog.Info("Notifier.Enqueue: notification queued", "order", order.ID, "status", order.Status, "job", id)
	return id, nil
}

// Handle is the job handler for JobKind.
func (n *Notifier) Handle(ctx context.Context, payloadJSON string) error {
	var p Payload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return fmt.Errorf("decode notification payload: %w", err)
	}
	st, err := n.settings.Load(ctx)
	if err != nil {
		return err
	}
	tmpl := st.OrderNotifications.Template(p.Order.Status)
	if tmpl == "" {
		slog.Info("Notifier.Handle: template removed, dropping notification", "order", p.Order.ID, "status", p.Order.Status)
		return nil
	}
	body := template.Render(tmpl, template.Data{Settings: st, Order: &p.Order, Now: n.now()})
	if body == "" {
		return ErrEmptyMessage
	}
	if st.Provider == models.ProviderVendor && !st.Vendor.HasCredentials() {
		return ErrNoCredentials
	}
	to, err := n.messenger.Send(ctx, st.Provider, p.Phone, body)
	if err != nil {
		return err
	}
	slog.Info("Notifier.Handle: notification sent", "order", p.Order.ID, "status", p.Order.Status, "to", to)
	return nil
}

// Register installs Handle on the runner.
func (n *Notifier) Register(r *store.JobRunner) {
	r.RegisterHandler(JobKind, n.Handle)
}
