package models

// Page is one cursor-delimited slice of a conversation's history, as
// returned by the server: newest first, with an opaque cursor pointing at
// the next (older) slice.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

// MutationState tracks an optimistic mutation through its lifecycle.
type MutationState string

const (
	MutationOptimistic MutationState = "optimistic"
	MutationConfirmed  MutationState = "confirmed"
	MutationFailed     MutationState = "failed"
)

// MutationUpdate is delivered to subscribers whenever the coordinator
// applies, confirms, or rolls back a local mutation, and whenever a push
// event changes the timeline.
type MutationUpdate struct {
	State   MutationState
	Message Message
	Err     error
}
