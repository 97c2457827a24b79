package google

import (
	"context"
	"log/slog"

	"lifeos/internal/models"
)

const (
	user = "me"
	// PrimaryInboxQuery restricts the thread list to the primary inbox category.
	PrimaryInboxQuery = "category:primary"
	// MaxThreads caps a single thread list request.
	MaxThreads = 15
)

// MailClient lists and fetches Gmail threads.
type MailClient struct {
	services *Services
	logger   *slog.Logger
}

func NewMailClient(logger *slog.Logger, services *Services) *MailClient {
	return &MailClient{services: services, logger: logger}
}

// ListThreadIDs returns the IDs of the most recent primary inbox threads.
func (c *MailClient) ListThreadIDs(ctx context.Context) ([]string, error) {
	svc, err := c.services.Gmail()
	if err != nil {
		return nil, err
	}
	resp, err := svc.Users.Threads.List(user).
		Q(PrimaryInboxQuery).
		MaxResults(MaxThreads).
		Context(ctx).
		Do()
	if err != nil {
		return nil, &FetchError{Op: "gmail.threads.list", Err: err}
	}

	ids := make([]string, 0, len(resp.Threads))
	for _, t := range resp.Threads {
		if t != nil && t.Id != "" {
			ids = append(ids, t.Id)
		}
	}
	c.logger.Debug("Listed Gmail threads", "count", len(ids))
	return ids, nil
}

// Thread fetches one thread with all its messages and assembles it.
func (c *MailClient) Thread(ctx context.Context, id string) (models.EmailThread, error) {
	svc, err := c.services.Gmail()
	if err != nil {
		return models.EmailThread{}, err
	}
	detail, err := svc.Users.Threads.Get(user, id).Format("full").Context(ctx).Do()
	if err != nil {
		return models.EmailThread{}, &FetchError{Op: "gmail.threads.get " + id, Err: err}
	}
	thread, ok := AssembleThread(detail)
	if !ok {
		return models.EmailThread{}, &FetchError{Op: "gmail.threads.get " + id, Err: ErrEmptyThread}
	}
	if thread.ID == "" {
		thread.ID = id
	}
	return thread, nil
}
