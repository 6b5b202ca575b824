// Package featureflags evaluates rollout flags configured as a
// comma-separated list, e.g. "atomic_unread=on,chat_notifications=25%".
package featureflags

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// Known flags.
const (
	// AtomicUnread switches unread counters to a single atomic increment
	// instead of read-modify-write of the whole map.
	AtomicUnread = "atomic_unread"
	// ChatNotifications pushes a notification to the other participants of a
	// room after every send.
	ChatNotifications = "chat_notifications"
)

// Defaults apply to flags missing from the configured list.
var Defaults = map[string]string{
	AtomicUnread:      "on",
	ChatNotifications: "on",
}

// Manager evaluates feature flags for users.
type Manager struct {
	flags map[string]string
}

// NewManager parses raw on top of Defaults.
func NewManager(raw string) *Manager {
	out := make(map[string]string, len(Defaults))
	for k, v := range Defaults {
		out[k] = v
	}

	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key, value = normalize(key), normalize(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}

	return &Manager{flags: out}
}

// Enabled reports whether name is on for uid. Values are on/true/1,
// off/false/0, or N% for a deterministic per-user rollout. A nil Manager
// falls back to Defaults.
func (m *Manager) Enabled(name, uid string) bool {
	var (
		value string
		ok    bool
	)
	if m == nil {
		value, ok = Defaults[normalize(name)]
	} else {
		value, ok = m.flags[normalize(name)]
	}
	if !ok {
		return false
	}

	switch value {
	case "on", "true", "1":
		return true
	case "off", "false", "0":
		return false
	}

	pctRaw, isPct := strings.CutSuffix(value, "%")
	if !isPct {
		return false
	}
	pct, err := strconv.Atoi(pctRaw)
	if err != nil || pct <= 0 {
		return false
	}
	if pct >= 100 {
		return true
	}
	if uid == "" {
		return false
	}
	return rolloutBucket(name, uid) < pct
}

// Snapshot returns the evaluated status of every flag for one user.
func (m *Manager) Snapshot(uid string) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(m.flags))
	for name := range m.flags {
		out[name] = m.Enabled(name, uid)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, uid string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + uid))
	return int(h.Sum32() % 100)
}
