package ledger

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeriveIdempotencyKey computes a deterministic key from the stable
// identity of a creation request, so equivalent requests admit a single
// entry. Manual human tasks with no action spec carry no natural
// identity and get a random key instead.
//
// The digest is short and non-cryptographic: sufficient for operational
// dedup, not a security boundary.
func DeriveIdempotencyKey(o *CreateOptions) string {
	if o.IdempotencyKey != "" {
		return o.IdempotencyKey
	}

	if o.Type == TypeHumanTask && o.ActionType == "" && o.ActionEndpoint == "" {
		return "manual-" + uuid.NewString()
	}

	scheduled := ""
	if o.ScheduledFor != nil {
		scheduled = o.ScheduledFor.UTC().Format(time.RFC3339)
	}

	parts := []string{
		o.TenantID,
		string(o.Type),
		string(o.Category),
		o.ActionType,
		o.ActionEndpoint,
		o.EntityType,
		o.EntityID,
		scheduled,
		payloadDigest(o.Payload),
	}

	h := fnv.New64a()
	h.Write([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("auto-%s-%016x", o.TenantID, h.Sum64())
}

// payloadDigest produces a short content digest of the opaque payload.
// encoding/json sorts map keys, so the digest is stable across
// equivalent payloads.
func payloadDigest(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "unmarshalable"
	}
	h := fnv.New32a()
	h.Write(data)
	return fmt.Sprintf("%08x", h.Sum32())
}
