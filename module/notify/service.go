package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"threadline/logger"
)

// MuteSource supplies the per-thread mute override; the message store
// satisfies it.
type MuteSource interface {
	GetThreadMute(ctx context.Context, threadID, userID string) (muted bool, untilMS int64, err error)
}

// Service answers "may this event alert this user" and owns settings
// updates. Lookup failures are logged and degrade to defaults; a broken
// settings row must never block message delivery.
type Service struct {
	settings SettingsStore
	mutes    MuteSource
	now      func() time.Time
}

func NewService(settings SettingsStore, mutes MuteSource) *Service {
	return &Service{settings: settings, mutes: mutes, now: time.Now}
}

// WithClock swaps the time source; tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Decide runs the notification gate for one (user, thread) pair.
func (s *Service) Decide(ctx context.Context, userID, threadID string) bool {
	st, err := s.settings.Get(ctx, userID)
	if err != nil {
		logger.Warn("load notify settings failed, using defaults",
			zap.String("user", userID), zap.Error(err))
		st = DefaultSettings(userID)
	}
	var ov *ThreadOverride
	if s.mutes != nil && threadID != "" {
		muted, until, err := s.mutes.GetThreadMute(ctx, threadID, userID)
		if err == nil {
			ov = &ThreadOverride{Muted: muted, UntilMS: until}
		}
	}
	return ShouldNotify(st, ov, s.now())
}

// Get returns the user's current settings (defaults when none stored).
func (s *Service) Get(ctx context.Context, userID string) (*Settings, error) {
	return s.settings.Get(ctx, userID)
}

// Update applies a partial settings body and persists the result.
func (s *Service) Update(ctx context.Context, userID string, body map[string]any) (*Settings, error) {
	st, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := ApplyPatch(st, body); err != nil {
		return nil, err
	}
	st.UserID = userID
	if err := s.settings.Put(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}
