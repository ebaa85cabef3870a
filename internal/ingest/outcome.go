package ingest

// Outcome is the explicit result of processing one raw queue message,
// replacing the exception-based control flow of the system this service
// succeeds: every outcome maps directly to whether the poll loop deletes
// the message.
type Outcome int

const (
	// Processed means the message was handled successfully; delete it.
	Processed Outcome = iota
	// Rejected means the message is a poison pill (decode failure, an
	// unrecognized event type, or a conversation.window event without a
	// channel_uuid); delete it without further processing.
	Rejected
	// Deferred means a transient failure occurred; leave the message
	// un-acked so the queue redelivers it.
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case Rejected:
		return "rejected"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// ShouldDelete reports whether the poll loop should include this
// message's receipt handle in the next DeleteBatch call.
func (o Outcome) ShouldDelete() bool {
	return o == Processed || o == Rejected
}
