// Package intent manages pending destructive actions awaiting user
// confirmation: the content-addressed Pending Intent, the expiring store
// with atomic get-and-clear, and the confirmation phrase matcher.
package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// PendingIntent is a stored, single-use destructive action. Its action and
// params were validated by the policy enforcer at creation time; the hash
// makes the stored content tamper-evident across the confirmation
// round-trip.
type PendingIntent struct {
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Hash      string         `json:"hash"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewPendingIntent builds an intent with its content hash.
func NewPendingIntent(action string, params map[string]any) *PendingIntent {
	return &PendingIntent{
		Action:    action,
		Params:    params,
		Hash:      ContentHash(action, params),
		CreatedAt: time.Now().UTC(),
	}
}

// ContentHash computes the SHA-256 content address over the action name and
// key-sorted canonical JSON parameters. Two intents with the same action
// and params always hash identically regardless of map iteration order.
func ContentHash(action string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(action)
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		value, err := json.Marshal(params[k])
		if err != nil {
			b.WriteString("<unencodable>")
			continue
		}
		b.Write(value)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
