// Package transport carries the operation envelope (spec §6) between
// peering replicas over WebSocket. It knows nothing about LWW resolution
// or the trie; it only encodes, decodes, and moves Operation values.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/dyule/crdt-fileset/internal/fileset"
	"github.com/dyule/crdt-fileset/internal/updater"
	"github.com/google/uuid"
)

// WireOperation is the JSON-on-the-wire shape of a fileset.Operation.
// Transaction stays a json.RawMessage so the transport never needs to
// know the updater's content type — the receiving replica's updater
// unmarshals it itself, the same opacity the core requires of
// Operation.Transaction in memory.
type WireOperation struct {
	MessageID string `json:"message_id"`
	Kind      string `json:"kind"`

	Timestamp uint32 `json:"timestamp,omitempty"`
	Site      uint32 `json:"site,omitempty"`

	IDSite uint32 `json:"id_site"`
	IDNum  uint32 `json:"id_num"`

	Filename []string `json:"filename,omitempty"`

	Transaction     json.RawMessage         `json:"transaction,omitempty"`
	TimestampLookup updater.TimestampLookup `json:"timestamp_lookup,omitempty"`

	MetadataKind   string `json:"metadata_kind,omitempty"`
	AttributeKey   string `json:"attribute_key,omitempty"`
	AttributeValue string `json:"attribute_value,omitempty"`
}

// EncodeOperation converts a core Operation into its wire shape, JSON
// marshaling op.Transaction opaquely.
func EncodeOperation(op fileset.Operation) (WireOperation, error) {
	w := WireOperation{
		MessageID:       uuid.NewString(),
		Kind:            string(op.Kind),
		Timestamp:       op.State.Timestamp,
		Site:            op.State.Site,
		IDSite:          op.ID.Site,
		IDNum:           op.ID.ID,
		Filename:        op.Filename,
		TimestampLookup: op.TimestampLookup,
		MetadataKind:    string(op.MetadataKind),
		AttributeKey:    op.AttributeKey,
		AttributeValue:  op.AttributeValue,
	}

	if op.Transaction != nil {
		raw, err := json.Marshal(op.Transaction)
		if err != nil {
			return WireOperation{}, fmt.Errorf("transport: encode transaction: %w", err)
		}

		w.Transaction = raw
	}

	return w, nil
}

// DecodeOperation converts a wire operation back into a core Operation.
// The decoded Transaction, when present, is left as a json.RawMessage:
// the caller's updater is responsible for unmarshaling it into its own
// concrete transaction type.
func DecodeOperation(w WireOperation) (fileset.Operation, error) {
	op := fileset.Operation{
		Kind:           fileset.OperationKind(w.Kind),
		State:          fileset.State{Timestamp: w.Timestamp, Site: w.Site},
		ID:             fileset.FileID{Site: w.IDSite, ID: w.IDNum},
		Filename:       w.Filename,
		TimestampLookup: w.TimestampLookup,
		MetadataKind:   fileset.MetadataKind(w.MetadataKind),
		AttributeKey:   w.AttributeKey,
		AttributeValue: w.AttributeValue,
	}

	if len(w.Transaction) > 0 {
		op.Transaction = w.Transaction
	}

	switch op.Kind {
	case fileset.OpCreate, fileset.OpRemove, fileset.OpUpdate, fileset.OpUpdateMetadata:
	default:
		return fileset.Operation{}, fmt.Errorf("transport: unknown operation kind %q", w.Kind)
	}

	return op, nil
}
