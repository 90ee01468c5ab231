package utils

import (
	"strings"

	"github.com/google/uuid"
)

// eventIDNamespace seeds UUIDs derived from external identifiers. Fixed so
// the same external id maps to the same UUID across restarts and instances,
// which is what lets queue redeliveries collapse into one stored event.
var eventIDNamespace = uuid.MustParse("f3c1a360-9d2b-4a6f-8f3e-5f0f6b1a7c42")

// DeriveEventID maps an external identifier to a stable UUIDv5. The source
// partitions the namespace, so "order-1001" from two different systems
// yields two different ids.
func DeriveEventID(source, externalID string) uuid.UUID {
	return uuid.NewSHA1(eventIDNamespace, []byte(source+"\x00"+externalID))
}

// NormalizeEventID returns id unchanged when it already is a UUID, derives
// one when it is some foreign identifier, and returns "" for "" so the
// publisher assigns a fresh id.
func NormalizeEventID(source, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return DeriveEventID(source, id).String()
}
