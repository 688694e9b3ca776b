package walog

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
)

// Operation names the six kinds of WAL entries the engine appends.
type Operation string

const (
	OpBegin      Operation = "BEGIN"
	OpWrite      Operation = "WRITE"
	OpDelete     Operation = "DELETE"
	OpCommit     Operation = "COMMIT"
	OpRollback   Operation = "ROLLBACK"
	OpCheckpoint Operation = "CHECKPOINT"
)

// SystemTransactionID is the literal transactionId CHECKPOINT entries carry.
const SystemTransactionID = "SYSTEM"

// Entry is one line of the write-ahead log. Field order matches the wire
// format in spec §6 and is also the canonical order checksums are computed
// over.
type Entry struct {
	LSN           uint64          `json:"lsn"`
	TransactionID string          `json:"transactionId"`
	Operation     Operation       `json:"operation"`
	Key           string          `json:"key,omitempty"`
	BeforeImage   json.RawMessage `json:"beforeImage,omitempty"`
	AfterImage    json.RawMessage `json:"afterImage,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	Checksum      string          `json:"checksum"`
}

// checksumBody mirrors Entry minus Checksum; it is what the digest covers.
type checksumBody struct {
	LSN           uint64          `json:"lsn"`
	TransactionID string          `json:"transactionId"`
	Operation     Operation       `json:"operation"`
	Key           string          `json:"key,omitempty"`
	BeforeImage   json.RawMessage `json:"beforeImage,omitempty"`
	AfterImage    json.RawMessage `json:"afterImage,omitempty"`
	Timestamp     int64           `json:"timestamp"`
}

func computeChecksum(e Entry) (string, error) {
	body := checksumBody{
		LSN:           e.LSN,
		TransactionID: e.TransactionID,
		Operation:     e.Operation,
		Key:           e.Key,
		BeforeImage:   e.BeforeImage,
		AfterImage:    e.AfterImage,
		Timestamp:     e.Timestamp,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// verify reports whether e.Checksum matches the digest of its other fields.
func verify(e Entry) bool {
	want, err := computeChecksum(e)
	if err != nil {
		return false
	}
	return want == e.Checksum
}

func marshalValue(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// NewBeginEntry builds an unchecksummed, unassigned-LSN BEGIN entry.
func NewBeginEntry(txnID string) Entry {
	return Entry{TransactionID: txnID, Operation: OpBegin}
}

// NewWriteEntry builds a WRITE entry with before/after document images.
func NewWriteEntry(txnID, key string, before, after any) (Entry, error) {
	beforeRaw, err := marshalValue(before)
	if err != nil {
		return Entry{}, err
	}
	afterRaw, err := marshalValue(after)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		TransactionID: txnID,
		Operation:     OpWrite,
		Key:           key,
		BeforeImage:   beforeRaw,
		AfterImage:    afterRaw,
	}, nil
}

// NewDeleteEntry builds a DELETE entry; afterImage is always null.
func NewDeleteEntry(txnID, key string, before any) (Entry, error) {
	beforeRaw, err := marshalValue(before)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		TransactionID: txnID,
		Operation:     OpDelete,
		Key:           key,
		BeforeImage:   beforeRaw,
		AfterImage:    json.RawMessage("null"),
	}, nil
}

// NewCommitEntry builds a COMMIT entry.
func NewCommitEntry(txnID string) Entry {
	return Entry{TransactionID: txnID, Operation: OpCommit}
}

// NewRollbackEntry builds a ROLLBACK entry.
func NewRollbackEntry(txnID string) Entry {
	return Entry{TransactionID: txnID, Operation: OpRollback}
}

// NewCheckpointEntry builds a CHECKPOINT entry owned by the system.
func NewCheckpointEntry() Entry {
	return Entry{TransactionID: SystemTransactionID, Operation: OpCheckpoint}
}

// DecodeImage unmarshals a raw before/after image into a generic JSON value,
// returning nil for an absent or JSON-null image.
func DecodeImage(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
