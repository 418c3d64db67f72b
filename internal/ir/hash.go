package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainEvent = "galed/event/v1"
	DomainValue = "galed/value/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte (0x00) separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // Null separator - CRITICAL for security
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventObject converts an event to the canonical map used for hashing and
// journal payloads. Wall-clock time is included: it is audit data.
func EventObject(ev Event) map[string]any {
	obj := map[string]any{
		"seq":        ev.Seq,
		"kind":       string(ev.Kind),
		"actor_id":   ev.Actor.ID,
		"actor_kind": string(ev.Actor.Kind),
		"at":         ev.At,
	}
	if ev.Requirement != "" {
		obj["requirement"] = ev.Requirement
	}
	if ev.Field != "" {
		obj["field"] = ev.Field
	}
	if ev.Proposal != 0 {
		obj["proposal"] = ev.Proposal
	}
	if len(ev.Data) > 0 {
		obj["data"] = ev.Data
	}
	return obj
}

// EventBody returns the canonical JSON of an event. The journal stores
// these bytes verbatim so the chain can be re-verified without decoding.
func EventBody(ev Event) ([]byte, error) {
	body, err := MarshalCanonical(EventObject(ev))
	if err != nil {
		return nil, fmt.Errorf("EventBody: failed to marshal: %w", err)
	}
	return body, nil
}

// ChainHash links an event body to the hash of its predecessor.
// Format: SHA256(domain + 0x00 + prev + 0x00 + body)
func ChainHash(prev string, body []byte) string {
	data := make([]byte, 0, len(prev)+1+len(body))
	data = append(data, prev...)
	data = append(data, 0x00)
	data = append(data, body...)
	return hashWithDomain(DomainEvent, data)
}

// EventHash computes the chained content hash of an event.
// prev is the hash of the preceding event ("" for the first).
func EventHash(prev string, ev Event) (string, error) {
	body, err := EventBody(ev)
	if err != nil {
		return "", err
	}
	return ChainHash(prev, body), nil
}

// ValueDigest returns a short stable digest of a value, used to compare
// values across documents without exposing them.
func ValueDigest(v Value) (string, error) {
	if v == nil {
		return "", fmt.Errorf("ValueDigest: nil value")
	}
	canonical, err := MarshalCanonical(map[string]any{
		"kind":  string(v.Kind()),
		"value": v,
	})
	if err != nil {
		return "", fmt.Errorf("ValueDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainValue, canonical)[:16], nil
}
