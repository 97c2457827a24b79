package google

import (
	"slices"
	"sort"
	"strings"
	"time"

	"lifeos/internal/models"

	"google.golang.org/api/gmail/v1"
)

const unreadLabel = "UNREAD"

// AssembleThread builds an EmailThread from a thread detail. Messages are
// sorted by internal date, the latest one represents the thread, and the
// thread is unread if any of its messages is. It returns false for a thread
// without messages.
func AssembleThread(t *gmail.Thread) (models.EmailThread, bool) {
	if t == nil {
		return models.EmailThread{}, false
	}
	msgs := make([]*gmail.Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m != nil {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) == 0 {
		return models.EmailThread{}, false
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].InternalDate < msgs[j].InternalDate
	})

	status := models.StatusRead
	messages := make([]models.ThreadMessage, 0, len(msgs))
	for _, m := range msgs {
		if slices.Contains(m.LabelIds, unreadLabel) {
			status = models.StatusUnread
		}
		messages = append(messages, models.ThreadMessage{
			ID:        m.Id,
			Sender:    header(m.Payload, "From"),
			Snippet:   m.Snippet,
			Body:      ResolveBody(m.Payload),
			Timestamp: time.UnixMilli(m.InternalDate).UTC(),
		})
	}

	latest := messages[len(messages)-1]
	return models.EmailThread{
		ID:           t.Id,
		Sender:       latest.Sender,
		Subject:      header(msgs[len(msgs)-1].Payload, "Subject"),
		Snippet:      latest.Snippet,
		Body:         latest.Body,
		Timestamp:    latest.Timestamp,
		Status:       status,
		IsThread:     len(messages) > 1,
		MessageCount: len(messages),
		Messages:     messages,
	}, true
}

func header(p *gmail.MessagePart, name string) string {
	if p == nil {
		return ""
	}
	for _, h := range p.Headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}
