package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"threadline/tools/decode"
	"threadline/tools/errs"
)

// Settings are the user's global notification toggles. DND bounds are
// local-time-of-day strings interpreted in Timezone; the global mute
// deadline is absolute UTC milliseconds.
type Settings struct {
	UserID               string `json:"user_id"`
	PushEnabled          bool   `json:"push_enabled"`
	DMGlobalMuted        bool   `json:"dm_global_muted"`
	DMGlobalMutedUntilMS int64  `json:"dm_global_muted_until_ms"`
	DNDStart             string `json:"dnd_start"`
	DNDEnd               string `json:"dnd_end"`
	Timezone             string `json:"timezone"`
}

// DefaultSettings: notifications on, nothing muted.
func DefaultSettings(userID string) *Settings {
	return &Settings{UserID: userID, PushEnabled: true}
}

// settingsPatch mirrors Settings with pointer fields, so only the keys the
// client actually sent get applied.
type settingsPatch struct {
	PushEnabled          *bool   `json:"push_enabled"`
	DMGlobalMuted        *bool   `json:"dm_global_muted"`
	DMGlobalMutedUntilMS *int64  `json:"dm_global_muted_until_ms"`
	DNDStart             *string `json:"dnd_start"`
	DNDEnd               *string `json:"dnd_end"`
	Timezone             *string `json:"timezone"`
}

var patchKeys = map[string]struct{}{
	"push_enabled":             {},
	"dm_global_muted":          {},
	"dm_global_muted_until_ms": {},
	"dnd_start":                {},
	"dnd_end":                  {},
	"timezone":                 {},
}

// ApplyPatch merges a partial-update body into s. At least one recognized
// field is required; unknown keys are ignored.
func ApplyPatch(s *Settings, body map[string]any) error {
	p, md, err := decode.Map[settingsPatch](body)
	if err != nil {
		return errs.ErrValidation.WithDetail(err.Error())
	}
	recognized := 0
	for _, k := range md.Keys {
		if _, ok := patchKeys[k]; ok {
			recognized++
		}
	}
	if recognized == 0 {
		return errs.ErrValidation.WithDetail("no recognized settings field")
	}
	if p.PushEnabled != nil {
		s.PushEnabled = *p.PushEnabled
	}
	if p.DMGlobalMuted != nil {
		s.DMGlobalMuted = *p.DMGlobalMuted
	}
	if p.DMGlobalMutedUntilMS != nil {
		s.DMGlobalMutedUntilMS = *p.DMGlobalMutedUntilMS
	}
	if p.DNDStart != nil {
		s.DNDStart = *p.DNDStart
	}
	if p.DNDEnd != nil {
		s.DNDEnd = *p.DNDEnd
	}
	if p.Timezone != nil {
		s.Timezone = *p.Timezone
	}
	return nil
}

// SettingsStore persists per-user settings.
type SettingsStore interface {
	Get(ctx context.Context, userID string) (*Settings, error)
	Put(ctx context.Context, s *Settings) error
}

// PgSettingsStore keeps settings in Postgres.
type PgSettingsStore struct {
	pool *pgxpool.Pool
}

func NewPgSettingsStore(pool *pgxpool.Pool) *PgSettingsStore {
	return &PgSettingsStore{pool: pool}
}

const settingsDDL = `
CREATE TABLE IF NOT EXISTS notify_settings (
	user_id                  text PRIMARY KEY,
	push_enabled             boolean NOT NULL DEFAULT true,
	dm_global_muted          boolean NOT NULL DEFAULT false,
	dm_global_muted_until_ms bigint NOT NULL DEFAULT 0,
	dnd_start                text NOT NULL DEFAULT '',
	dnd_end                  text NOT NULL DEFAULT '',
	timezone                 text NOT NULL DEFAULT ''
);
`

func (p *PgSettingsStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, settingsDDL)
	return errs.WrapMsg(err, "ensure notify schema")
}

func (p *PgSettingsStore) Get(ctx context.Context, userID string) (*Settings, error) {
	s := &Settings{UserID: userID}
	err := p.pool.QueryRow(ctx,
		`SELECT push_enabled, dm_global_muted, dm_global_muted_until_ms,
		        dnd_start, dnd_end, timezone
		 FROM notify_settings WHERE user_id=$1`, userID).
		Scan(&s.PushEnabled, &s.DMGlobalMuted, &s.DMGlobalMutedUntilMS,
			&s.DNDStart, &s.DNDEnd, &s.Timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(userID), nil
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return s, nil
}

func (p *PgSettingsStore) Put(ctx context.Context, s *Settings) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO notify_settings
		   (user_id, push_enabled, dm_global_muted, dm_global_muted_until_ms,
		    dnd_start, dnd_end, timezone)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (user_id) DO UPDATE SET
		   push_enabled = EXCLUDED.push_enabled,
		   dm_global_muted = EXCLUDED.dm_global_muted,
		   dm_global_muted_until_ms = EXCLUDED.dm_global_muted_until_ms,
		   dnd_start = EXCLUDED.dnd_start,
		   dnd_end = EXCLUDED.dnd_end,
		   timezone = EXCLUDED.timezone`,
		s.UserID, s.PushEnabled, s.DMGlobalMuted, s.DMGlobalMutedUntilMS,
		s.DNDStart, s.DNDEnd, s.Timezone)
	return errs.Wrap(err)
}

// MemSettingsStore is the in-memory SettingsStore for tests.
type MemSettingsStore struct {
	mu sync.RWMutex
	m  map[string]*Settings
}

func NewMemSettingsStore() *MemSettingsStore {
	return &MemSettingsStore{m: make(map[string]*Settings)}
}

func (m *MemSettingsStore) Get(_ context.Context, userID string) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.m[userID]; ok {
		cp := *s
		return &cp, nil
	}
	return DefaultSettings(userID), nil
}

func (m *MemSettingsStore) Put(_ context.Context, s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.m[s.UserID] = &cp
	return nil
}
