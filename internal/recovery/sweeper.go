package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Cooldown int `json:"cooldown"`
	NoPhone  int `json:"no_phone"`
}

// Sweeper scans active carts and sends the messages that are due.
type Sweeper struct {
	carts    store.CartRepo
	sender   *Sender
	cooldown *Cooldown
	settings SettingsLoader
	mu       sync.Mutex
}

// NewSweeper creates a Sweeper.
func NewSweeper(carts store.CartRepo, sender *Sender, cooldown *Cooldown, settings SettingsLoader) *Sweeper {
	return &Sweeper{carts: carts, sender: sender, cooldown: cooldown, settings: settings}
}

// RunSweep examines every active cart once. For each cart the slots are
// checked in order; the first due slot is either sent or, when the phone is
// in cooldown, skipped along with the rest of the cart. At most one message
// goes out per cart per sweep. Concurrent calls are serialized.
func (s *Sweeper) RunSweep(ctx context.Context, now time.Time) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SweepResult
	st, err := s.settings.Load(ctx)
	if err != nil {
		slog.Error("Sweeper.RunSweep: settings unavailable", "error", err)
		return res, err
	}
	if !st.Enabled {
		slog.Debug("Sweeper.RunSweep: recovery disabled")
		return res, nil
	}

	carts, err := s.carts.ListCartsByStatus(ctx, models.CartStatusActive, 0)
	if err != nil {
		return res, err
	}
	window := time.Duration(st.CooldownMinutes) * time.Minute

	for i := range carts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cart := &carts[i]
		res.Scanned++
		if cart.Phone == "" {
			res.NoPhone++
			continue
		}

		slot := dueSlot(st, cart, now)
		if slot == 0 {
			continue
		}

		cooling, err := s.cooldown.InCooldown(ctx, cart.Phone, window, now)
		if err != nil {
			slog.Error("Sweeper.RunSweep: cooldown check failed", "error", err, "cartID", cart.ID)
			res.Failed++
			continue
		}
		if cooling {
			slog.Debug("Sweeper.RunSweep: phone in cooldown", "cartID", cart.ID, "slot", slot)
			res.Cooldown++
			continue
		}

		if err := s.sender.send(ctx, st, cart, slot, now); err != nil {
			res.Failed++
			continue
		}
		res.Sent++
	}

	slog.Info("Sweeper.RunSweep: sweep complete",
		"scanned", res.Scanned, "sent", res.Sent, "failed", res.Failed, "cooldown", res.Cooldown)
	return res, nil
}

// dueSlot returns the first enabled, unsent slot whose delay has elapsed, or 0.
func dueSlot(st models.Settings, cart *models.AbandonedCart, now time.Time) int {
	elapsed := int(now.Sub(cart.CreatedAt) / time.Minute)
	for slot := 1; slot <= models.MessageSlotCount; slot++ {
		cfg := st.Messages[slot-1]
		if !cfg.Enabled || cart.MessagesSent.IsSent(slot) {
			continue
		}
		if elapsed >= cfg.DelayMinutes() {
			return slot
		}
	}
	return 0
}
