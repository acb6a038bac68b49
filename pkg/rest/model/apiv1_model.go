// Package model holds the JSON documents exchanged over the local API.
package model

import (
	"time"
)

// JSONLabelV1 is a single mailbox folder.
type JSONLabelV1 struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Total  int    `json:"total"`
	Unread int    `json:"unread"`
}

// JSONLabelSetV1 lists every mailbox folder.
type JSONLabelSetV1 struct {
	Labels    []JSONLabelV1 `json:"labels"`
	FetchedAt time.Time     `json:"fetched-at"`
	Stale     bool          `json:"stale"`
	Source    string        `json:"source"`
}

// JSONMessageHeaderV1 contains the basic header data for a message
type JSONMessageHeaderV1 struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"thread-id,omitempty"`
	From           string    `json:"from"`
	To             []string  `json:"to"`
	Subject        string    `json:"subject"`
	Snippet        string    `json:"snippet,omitempty"`
	Date           time.Time `json:"date"`
	PosixMillis    int64     `json:"posix-millis"`
	Unread         bool      `json:"unread"`
	Starred        bool      `json:"starred"`
	Labels         []string  `json:"labels"`
	HasAttachments bool      `json:"has-attachments,omitempty"`
}

// JSONMailboxV1 is the current page of a mailbox.
type JSONMailboxV1 struct {
	Mailbox   string                 `json:"mailbox"`
	Messages  []*JSONMessageHeaderV1 `json:"messages"`
	NextToken string                 `json:"next-token,omitempty"`
	FetchedAt time.Time              `json:"fetched-at"`
	Stale     bool                   `json:"stale"`
	Source    string                 `json:"source"`
}

// JSONMessageV1 contains the same data as the header plus a JSONMessageBody
type JSONMessageV1 struct {
	JSONMessageHeaderV1
	Cc          []string                   `json:"cc,omitempty"`
	Header      map[string][]string        `json:"header"`
	Body        *JSONMessageBodyV1         `json:"body"`
	Attachments []*JSONMessageAttachmentV1 `json:"attachments"`
	FetchedAt   time.Time                  `json:"fetched-at"`
	Stale       bool                       `json:"stale"`
	Source      string                     `json:"source"`
}

// JSONMessageAttachmentV1 describes an attachment.  Content is not served by the local API.
type JSONMessageAttachmentV1 struct {
	ID          string `json:"id"`
	FileName    string `json:"filename"`
	ContentType string `json:"content-type"`
	Size        int64  `json:"size"`
}

// JSONMessageBodyV1 contains the Text and HTML versions of the message body
type JSONMessageBodyV1 struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// JSONMessagePatchV1 is the body of a message PATCH.  Exactly one field must be set.
type JSONMessagePatchV1 struct {
	Read    *bool       `json:"read,omitempty"`
	Starred *bool       `json:"starred,omitempty"`
	Move    *JSONMoveV1 `json:"move,omitempty"`
}

// JSONMoveV1 moves a message between mailboxes.
type JSONMoveV1 struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// JSONMutationV1 reports the outcome of a mutation: applied or queued.
type JSONMutationV1 struct {
	Status string `json:"status"`
}

// JSONSendV1 is a message to send.
type JSONSendV1 struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

// JSONQueuedV1 is a mutation waiting for connectivity.
type JSONQueuedV1 struct {
	ID        string    `json:"id"`
	Mailbox   string    `json:"mailbox"`
	MessageID string    `json:"message-id"`
	Kind      string    `json:"kind"`
	QueuedAt  time.Time `json:"queued-at"`
}

// JSONStatusV1 summarizes the state of the engine.
type JSONStatusV1 struct {
	Version     string          `json:"version"`
	Online      bool            `json:"online"`
	OnlineSince time.Time       `json:"online-since"`
	Entries     int             `json:"entries"`
	Queued      []*JSONQueuedV1 `json:"queued"`
	Labels      int             `json:"stored-labels"`
	Pages       int             `json:"stored-pages"`
	Details     int             `json:"stored-details"`
	LastSync    time.Time       `json:"last-sync"`
	Agent       bool            `json:"agent-active"`
}

// JSONCacheEventV1 is sent to monitor websockets for every change to the query cache.
type JSONCacheEventV1 struct {
	Op          string    `json:"op"`
	Resource    string    `json:"resource"`
	Key         string    `json:"key,omitempty"`
	Mutation    string    `json:"mutation,omitempty"`
	At          time.Time `json:"at"`
	PosixMillis int64     `json:"posix-millis"`
}
