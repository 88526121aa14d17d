// Package transport implements C8 (producer) and C9 (consumer): the bus
// boundary between sites. Two logical topics carry SyncMessage records:
// ship-updates (replica -> master) and master-updates (master -> fan-out).
// Delivery is at-least-once; exact-once effect is provided by the message
// tracker (C1), not by this package.
package transport

import (
	stdjson "encoding/json"

	jsoniter "github.com/json-iterator/go"

	"github.com/shipsync/offline-sync/internal/errs"
	"github.com/shipsync/offline-sync/internal/model"
)

// json mirrors the teacher's own choice of JSON library (json-iterator/go,
// imported by its stats/common_statsd.go) rather than reaching for the
// standard library encoding/json — it is both faster and, with
// ConfigCompatibleWithStandardLibrary, a drop-in.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Encode serializes a SyncMessage for the wire. Extra fields recorded by
// Decode (forward-compatibility passthrough, §6) are merged back in so a
// republish doesn't lose fields this build doesn't understand.
func Encode(msg model.SyncMessage) ([]byte, error) {
	base, err := json.Marshal(msg)
	if err != nil {
		return nil, errs.Schema("encoding sync message", err)
	}
	if len(msg.Extra) == 0 {
		return base, nil
	}

	var merged map[string]jsoniter.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, errs.Schema("re-decoding sync message for merge", err)
	}
	for k, v := range msg.Extra {
		if _, known := merged[k]; !known {
			merged[k] = jsoniter.RawMessage(v)
		}
	}
	return json.Marshal(merged)
}

// knownFields lists every SyncMessage JSON tag, used by Decode to split
// unrecognized keys into Extra.
var knownFields = map[string]bool{
	"messageId": true, "shipId": true, "contentType": true, "documentId": true,
	"locale": true, "operation": true, "payload": true, "baseVersion": true,
	"occurredAt": true, "attempt": true, "supersedes": true,
}

// Decode parses a wire record into a SyncMessage, preserving any field this
// build doesn't recognize in Extra (§6 "unknown fields are preserved
// (forward-compatibility)").
func Decode(b []byte) (model.SyncMessage, error) {
	var msg model.SyncMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		return msg, errs.Schema("decoding sync message", err)
	}

	var raw map[string]jsoniter.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return msg, errs.Schema("decoding sync message envelope", err)
	}
	for k, v := range raw {
		if !knownFields[k] {
			if msg.Extra == nil {
				msg.Extra = map[string]stdjson.RawMessage{}
			}
			msg.Extra[k] = stdjson.RawMessage(v)
		}
	}
	if err := msg.Validate(); err != nil {
		return msg, errs.Schema("validating sync message", err)
	}
	return msg, nil
}
