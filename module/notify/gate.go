package notify

import (
	"strconv"
	"strings"
	"time"
)

// ThreadOverride is the per-thread mute view used by the gate. UntilMS is
// an absolute UTC timestamp (unlike DND, which is a local-time window).
type ThreadOverride struct {
	Muted   bool  `json:"muted"`
	UntilMS int64 `json:"until_ms"`
}

// ShouldNotify decides whether an incoming message may alert the user.
// Precedence is a hard contract, first hit wins:
//
//	push disabled > global DM mute > DND window > thread mute > allow
func ShouldNotify(s *Settings, ov *ThreadOverride, now time.Time) bool {
	if s == nil {
		return true
	}
	if !s.PushEnabled {
		return false
	}
	if s.DMGlobalMuted || (s.DMGlobalMutedUntilMS > 0 && now.UnixMilli() < s.DMGlobalMutedUntilMS) {
		return false
	}
	if IsDND(s.DNDStart, s.DNDEnd, localTime(now, s.Timezone)) {
		return false
	}
	if ov != nil {
		if ov.Muted || (ov.UntilMS > 0 && now.UnixMilli() < ov.UntilMS) {
			return false
		}
	}
	return true
}

func localTime(now time.Time, tz string) time.Time {
	if tz == "" {
		return now
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return now
	}
	return now.In(loc)
}

// IsDND evaluates the do-not-disturb window against a local-time clock.
// start == end means 24h DND; start > end wraps over midnight. Malformed
// or missing bounds disable the window. The end bound is exclusive.
func IsDND(start, end string, now time.Time) bool {
	sm, ok := parseHHMM(start)
	if !ok {
		return false
	}
	em, ok := parseHHMM(end)
	if !ok {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	switch {
	case sm == em:
		return true
	case sm < em:
		return cur >= sm && cur < em
	default: // overnight window
		return cur >= sm || cur < em
	}
}

// parseHHMM returns minutes-since-midnight for a strict "HH:mm" value.
func parseHHMM(v string) (int, bool) {
	parts := strings.Split(v, ":")
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
