package models

import "time"

// TaskKind identifies the transport-specific work a queued job performs.
type TaskKind string

const (
	TaskSendSMS       TaskKind = "send_sms"
	TaskSendMMS       TaskKind = "send_mms"
	TaskSendPushText  TaskKind = "send_push_text"
	TaskSendPushMedia TaskKind = "send_push_media"
	TaskSendPushGroup TaskKind = "send_push_group"
	TaskDecryptPush   TaskKind = "decrypt_push"
)

// IsPush reports whether the task rides the encrypted push transport rather
// than carrier SMS/MMS.
func (k TaskKind) IsPush() bool {
	switch k {
	case TaskSendPushText, TaskSendPushMedia, TaskSendPushGroup, TaskDecryptPush:
		return true
	}
	return false
}

// DeliveryTask is the immutable unit of delivery work handed to the job
// queue. It references the persisted message rather than carrying content.
type DeliveryTask struct {
	Kind        TaskKind    `json:"kind"`
	MessageID   int64       `json:"messageId"`
	MessageKind MessageKind `json:"messageKind"`
	Destination string      `json:"destination,omitempty"`
}

// DecryptTask re-processes a stored incoming push envelope through
// decryption after its sender's identity key has been accepted.
type DecryptTask struct {
	EnvelopeID int64  `json:"envelopeId"`
	MessageID  int64  `json:"messageId"`
	Source     string `json:"source"`
}

// JobStatus is the queue-side lifecycle of a persisted job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobDead    JobStatus = "dead"
)

// Job is a durable queue entry. Payload holds the JSON-encoded task.
type Job struct {
	ID            int64
	Token         string
	Kind          TaskKind
	Payload       []byte
	Attempts      int
	MaxAttempts   int
	Status        JobStatus
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
