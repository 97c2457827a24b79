package models

import "time"

// MessageStatus is the read state of a thread.
type MessageStatus string

const (
	StatusUnread     MessageStatus = "UNREAD"
	StatusRead       MessageStatus = "READ"
	StatusReplied    MessageStatus = "REPLIED"
	StatusNeedsReply MessageStatus = "NEEDS_REPLY"
)

// Valid reports whether s is one of the known statuses.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusUnread, StatusRead, StatusReplied, StatusNeedsReply:
		return true
	}
	return false
}

// ThreadMessage is a single message inside an EmailThread.
type ThreadMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Snippet   string    `json:"snippet"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// EmailThread is a conversation as shown in the inbox. Sender, Subject,
// Snippet, Body and Timestamp come from the latest message.
type EmailThread struct {
	ID           string          `json:"id"`
	Sender       string          `json:"sender"`
	Subject      string          `json:"subject"`
	Snippet      string          `json:"snippet"`
	Body         string          `json:"fullBody"`
	Timestamp    time.Time       `json:"timestamp"`
	Status       MessageStatus   `json:"status"`
	IsThread     bool            `json:"isThread"`
	MessageCount int             `json:"threadCount"`
	Messages     []ThreadMessage `json:"threadMessages"` // ascending by Timestamp
}

// Snapshot is the result of one successful ingestion cycle.
type Snapshot struct {
	Events   []CalendarEvent `json:"events"`
	Threads  []EmailThread   `json:"threads"`
	LoadedAt time.Time       `json:"loadedAt"`
}
