package models

import "time"

// EnvelopeType mirrors the push wire envelope discriminator. Only the
// prekey-bundle type is produced by this core, when the reconciler rebuilds
// an envelope for re-decryption.
type EnvelopeType int

const (
	EnvelopeUnknown      EnvelopeType = 0
	EnvelopeCiphertext   EnvelopeType = 1
	EnvelopePreKeyBundle EnvelopeType = 3
)

// PushEnvelope is a stored incoming push message awaiting decryption.
type PushEnvelope struct {
	ID           int64
	Type         EnvelopeType
	Source       string
	SourceDevice int
	Relay        string
	Timestamp    time.Time
	Content      []byte
}
