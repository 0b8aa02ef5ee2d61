package models

// IdentityKeyMismatch records that a message is blocked on an identity key
// the local client does not currently trust for that recipient. A record
// carries at most one mismatch per recipient.
type IdentityKeyMismatch struct {
	RecipientID int64  `json:"recipientId"`
	IdentityKey string `json:"identityKey"`
}

// Equal is the matching rule the reconciler sweeps with: same recipient and
// same offending key.
func (m IdentityKeyMismatch) Equal(other IdentityKeyMismatch) bool {
	return m.RecipientID == other.RecipientID && m.IdentityKey == other.IdentityKey
}

// NetworkFailure records a non-cryptographic transport failure for one
// recipient of a message. When both could apply, an identity mismatch takes
// precedence over a network failure for the same recipient.
type NetworkFailure struct {
	RecipientID int64 `json:"recipientId"`
}
