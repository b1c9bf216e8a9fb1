// Package settings loads and saves the runtime options edited through the
// admin API. They are stored as one JSON document in the settings table.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/store"
)

// OptionKey is the settings table key holding the JSON document.
const OptionKey = "settings"

// Manager reads and writes Settings through a SettingsRepo.
type Manager struct {
	repo store.SettingsRepo
}

// NewManager creates a Manager backed by repo.
func NewManager(repo store.SettingsRepo) *Manager {
	return &Manager{repo: repo}
}

// Load returns the stored settings. Fields absent from the stored document
// keep their default values, and a missing document yields DefaultSettings.
func (m *Manager) Load(ctx context.Context) (models.Settings, error) {
	s := models.DefaultSettings()
	raw, ok, err := m.repo.GetOption(ctx, OptionKey)
	if err != nil {
		return s, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		slog.Debug("Settings.Load: no stored settings, using defaults")
		return s, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		slog.Error("Settings.Load: stored settings are corrupt", "error", err)
		return models.DefaultSettings(), fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// Save validates and stores s.
func (m *Manager) Save(ctx context.Context, s models.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := m.repo.SetOption(ctx, OptionKey, string(data)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	slog.Info("Settings.Save: settings updated", "enabled", s.Enabled, "provider", s.Provider)
	return nil
}
