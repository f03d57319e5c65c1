package models

import "time"

// Message is one owner's replica of a logical message. A send to N
// recipients produces N+1 rows with identical content fields; only
// ReadAt/IsDeleted/IsArchived vary per owner afterwards.
type Message struct {
	ID                int64      `json:"id"`
	Owner             string     `json:"owner"`
	From              string     `json:"from"`
	To                []string   `json:"to"`
	Subject           string     `json:"subject"`
	Body              string     `json:"message"`
	OriginalMessageID int64      `json:"originalMessageId"`
	ParentMessageID   *int64     `json:"parentMessageId"`
	ReadAt            *time.Time `json:"readAt"`
	IsDeleted         bool       `json:"isDeleted"`
	IsArchived        bool       `json:"isArchived"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// MessageSummary is the reduced shape returned by the list endpoint when
// summary=true is requested: no body, no recipient list.
type MessageSummary struct {
	ID        int64      `json:"id"`
	From      string     `json:"from"`
	Subject   string     `json:"subject"`
	ReadAt    *time.Time `json:"readAt"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Summary returns the reduced view of a message.
func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		ID:        m.ID,
		From:      m.From,
		Subject:   m.Subject,
		ReadAt:    m.ReadAt,
		CreatedAt: m.CreatedAt,
	}
}

// ThreadSummary is one entry of the thread list: the roll-up of all of one
// owner's visible replicas sharing an originalMessageId.
type ThreadSummary struct {
	OriginalMessageID int64     `json:"originalMessageId"`
	Senders           []string  `json:"senders"`
	MostRecent        time.Time `json:"mostRecent"`
	Count             int       `json:"count"`
	Archived          bool      `json:"archived"`
	Unread            bool      `json:"unread"`
	RefMessageID      int64     `json:"refMessageId"`
	Subject           string    `json:"subject"`
}

// SendMessageRequest is the request payload for send and reply.
// From is optional; when present it must match the authenticated principal.
type SendMessageRequest struct {
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"message"`
}

// MessageCountResponse is the response payload for the count endpoint.
type MessageCountResponse struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
}
