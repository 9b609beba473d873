package message

// Kind classifies message content.
type Kind int16

const (
	KindText   Kind = 1
	KindMedia  Kind = 2
	KindFile   Kind = 3
	KindSystem Kind = 4
)

// MaxBodyBytes bounds a message body; larger bodies are a validation error.
const MaxBodyBytes = 8 * 1024

// Attachment points into the blob store. StoragePath is bucket-relative;
// resolution to a signed URL happens in module/blob at read time.
type Attachment struct {
	StoragePath string `json:"storage_path"`
	Bucket      string `json:"bucket,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
	Name        string `json:"name,omitempty"`
}

// Message is the persisted unit of conversation. ServerID is assigned once
// by the store (snowflake, increasing per node) and together with
// CreatedAtMS forms the total order key. ClientMsgID is minted by the
// originating client and is stable across retries; (ThreadID, ClientMsgID)
// is unique and is what makes resubmission safe.
type Message struct {
	ServerID    int64        `json:"server_id"`
	ThreadID    string       `json:"thread_id"`
	SenderID    string       `json:"sender_id"`
	ClientMsgID string       `json:"client_msg_id"`
	Kind        Kind         `json:"kind"`
	Body        string       `json:"body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAtMS int64        `json:"created_at_ms"`
	EditedAtMS  int64        `json:"edited_at_ms,omitempty"`
	DeletedAtMS int64        `json:"deleted_at_ms,omitempty"`
}

// Deleted reports whether the message has been soft-deleted.
func (m *Message) Deleted() bool { return m.DeletedAtMS > 0 }

// Thread is a conversation between a fixed participant set. Membership is
// immutable after creation.
type Thread struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
	Title        string   `json:"title,omitempty"`
	IsGroup      bool     `json:"is_group"`
	CreatedAtMS  int64    `json:"created_at_ms"`
}

// HasParticipant reports membership.
func (t *Thread) HasParticipant(userID string) bool {
	for _, p := range t.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Others returns the participant set minus userID.
func (t *Thread) Others(userID string) []string {
	out := make([]string, 0, len(t.Participants))
	for _, p := range t.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// ThreadSummary is the listThreads row: the thread plus the caller's view
// of it (unread count derived from the read watermark, last message for
// preview).
type ThreadSummary struct {
	Thread        *Thread  `json:"thread"`
	LastMessage   *Message `json:"last_message,omitempty"`
	UnreadCount   int64    `json:"unread_count"`
	LastReadMsgID int64    `json:"last_read_msg_id"`
	Muted         bool     `json:"muted"`
	MutedUntilMS  int64    `json:"muted_until_ms,omitempty"`
}
