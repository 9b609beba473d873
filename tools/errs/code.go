package errs

// Error codes. 1xxx validation, 2xxx authorization, 5xxx server.
const (
	CodeValidation       = 1001
	CodeBadCursor        = 1002
	CodeNotFound         = 1404
	CodeTokenInvalid     = 2001
	CodeNotParticipant   = 2101
	CodeBlockedByPeer    = 2102
	CodeSenderBlocked    = 2103
	ServerInternalError  = 5000
	CodeStoreUnavailable = 5001
)

var (
	ErrValidation   = NewCodeError(CodeValidation, "validation_error")
	ErrBadCursor    = NewCodeError(CodeBadCursor, "malformed_cursor")
	ErrNotFound     = NewCodeError(CodeNotFound, "not_found")
	ErrTokenInvalid = NewCodeError(CodeTokenInvalid, "token_invalid")

	// Send preconditions. Both block directions are distinguishable so the
	// UI can present the failure instead of silently dropping the message.
	ErrNotParticipant         = NewCodeError(CodeNotParticipant, "not_a_participant")
	ErrBlockedByRecipient     = NewCodeError(CodeBlockedByPeer, "blocked_by_recipient")
	ErrSenderBlockedRecipient = NewCodeError(CodeSenderBlocked, "sender_blocked_recipient")

	ErrInternal         = NewCodeError(ServerInternalError, "internal_error")
	ErrStoreUnavailable = NewCodeError(CodeStoreUnavailable, "store_unavailable")
)

// NonRetryable reports whether err is a terminal rejection: validation and
// authorization failures must never be retried by the outbox.
func NonRetryable(err error) bool {
	switch Code(err, 0) {
	case CodeValidation, CodeBadCursor, CodeNotFound,
		CodeTokenInvalid, CodeNotParticipant, CodeBlockedByPeer, CodeSenderBlocked:
		return true
	}
	return false
}
