package models

import "time"

// MessageKind selects which sub-store holds a record. A record is exactly
// one of the two kinds for its whole lifetime.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindMedia MessageKind = "media"
)

// Direction of a message relative to the local client.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageStatus tracks the delivery lifecycle of an outgoing record.
type MessageStatus string

const (
	StatusOutbox MessageStatus = "outbox"
	StatusSent   MessageStatus = "sent"
	StatusFailed MessageStatus = "failed"
)

// DistributionType controls how a media message fans out to its recipient
// set, and participates in thread derivation.
type DistributionType int

const (
	DistributionDefault DistributionType = iota
	DistributionBroadcast
	DistributionConversation
)

// UnassignedThread is the sentinel callers pass when they want the store to
// derive the thread from the recipient set.
const UnassignedThread int64 = -1

// MessageRecord is a single message as read back from the store. Records are
// mutated only through store operations, never in place by callers.
type MessageRecord struct {
	ID                int64
	Kind              MessageKind
	ThreadID          int64
	Direction         Direction
	Status            MessageStatus
	Body              string
	MediaPath         *string
	ContentType       string
	DistributionType  DistributionType
	Recipients        RecipientSet
	RecipientDeviceID int
	SentAt            time.Time
	ReceivedAt        time.Time
	Mismatches        []IdentityKeyMismatch
	NetworkFailures   []NetworkFailure
}

func (r *MessageRecord) IsOutgoing() bool {
	return r.Direction == DirectionOutgoing
}

func (r *MessageRecord) IsMedia() bool {
	return r.Kind == KindMedia
}

// HasIdentityConflict reports whether any recipient of this record is
// blocked on an untrusted identity key.
func (r *MessageRecord) HasIdentityConflict() bool {
	return len(r.Mismatches) > 0
}

// OutgoingTextMessage is a composed text message handed to the dispatcher.
type OutgoingTextMessage struct {
	Recipients RecipientSet
	Body       string
	SentAt     time.Time
}

// OutgoingMediaMessage is a composed media message handed to the dispatcher.
type OutgoingMediaMessage struct {
	Recipients       RecipientSet
	Body             string
	MediaPath        string
	ContentType      string
	DistributionType DistributionType
	SentAt           time.Time
}
