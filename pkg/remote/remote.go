// Package remote defines the contract of the remote mailbox service the cache engine syncs with.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/inbucket/mailsync/pkg/message"
)

var (
	// ErrUnauthorized indicates the credential was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound indicates the requested resource does not exist remotely.
	ErrNotFound = errors.New("not found")
)

// HTTPError is returned for unexpected response statuses.
type HTTPError struct {
	Method     string
	URI        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s for %q, unexpected %v: %s", e.Method, e.URI, e.StatusCode, e.Status)
}

// Is maps well known statuses onto the package sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// ListResult is one page of message summaries.
type ListResult struct {
	Messages      []message.Summary `json:"messages"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

// Service is the remote mailbox API.  Implementations return errors matching ErrUnauthorized when
// the credential has expired.
type Service interface {
	ListLabels(ctx context.Context) ([]message.Label, error)
	ListMessages(ctx context.Context, mailboxID, pageToken string, pageSize int) (*ListResult, error)
	GetMessage(ctx context.Context, id string) (*message.Detail, error)
	ModifyLabels(ctx context.Context, id string, add, remove []string) error
	Trash(ctx context.Context, id string) error
	Send(ctx context.Context, msg *message.Outgoing) error
	Probe(ctx context.Context) error
}
