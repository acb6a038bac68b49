// Package message contains the mailbox data model shared by every cache tier.
package message

import (
	"time"
)

// Well-known label IDs used by the remote mailbox service.
const (
	LabelInbox   = "INBOX"
	LabelStarred = "STARRED"
	LabelUnread  = "UNREAD"
	LabelTrash   = "TRASH"
	LabelSent    = "SENT"
	LabelDraft   = "DRAFT"
	LabelSpam    = "SPAM"
)

// Label is a single mailbox folder.
type Label struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Total  int    `json:"total"`
	Unread int    `json:"unread"`
}

// LabelSet is the full list of mailbox folders for the session.  There is only ever one LabelSet
// per store; writing it replaces the previous one.
type LabelSet struct {
	Labels    []Label   `json:"labels"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Clone returns a copy of the label set that shares no slices with ls.
func (ls *LabelSet) Clone() *LabelSet {
	if ls == nil {
		return nil
	}
	c := *ls
	c.Labels = append([]Label(nil), ls.Labels...)
	return &c
}

// Find returns the label with the provided ID.
func (ls *LabelSet) Find(id string) (Label, bool) {
	if ls == nil {
		return Label{}, false
	}
	for _, l := range ls.Labels {
		if l.ID == id {
			return l, true
		}
	}
	return Label{}, false
}

// Summary is the list view of a message.
type Summary struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"threadId,omitempty"`
	From           string    `json:"from"`
	To             []string  `json:"to,omitempty"`
	Subject        string    `json:"subject"`
	Snippet        string    `json:"snippet,omitempty"`
	Date           time.Time `json:"date"`
	Unread         bool      `json:"unread"`
	Starred        bool      `json:"starred"`
	LabelIDs       []string  `json:"labelIds,omitempty"`
	HasAttachments bool      `json:"hasAttachments,omitempty"`
}

// HasLabel returns true if the summary carries the label ID.
func (s *Summary) HasLabel(id string) bool {
	for _, l := range s.LabelIDs {
		if l == id {
			return true
		}
	}
	return false
}

// Clone returns a copy of the summary that shares no slices with s.
func (s Summary) Clone() Summary {
	s.To = append([]string(nil), s.To...)
	s.LabelIDs = append([]string(nil), s.LabelIDs...)
	return s
}

// Page is the current page of message summaries for one mailbox.  Only the current page is kept
// per mailbox; writing a Page for a mailbox replaces the previous one.
type Page struct {
	MailboxID string    `json:"mailboxId"`
	Messages  []Summary `json:"messages"`
	Token     string    `json:"token,omitempty"` // Continuation token this page was listed with
	NextToken string    `json:"nextToken,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Clone returns a deep copy of the page, suitable as a rollback snapshot.
func (p *Page) Clone() *Page {
	if p == nil {
		return nil
	}
	c := *p
	c.Messages = make([]Summary, len(p.Messages))
	for i, m := range p.Messages {
		c.Messages[i] = m.Clone()
	}
	return &c
}

// Index returns the position of the message in the page, or -1.
func (p *Page) Index(id string) int {
	for i := range p.Messages {
		if p.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Attachment holds attachment metadata; content is never cached.
type Attachment struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Detail is a fully hydrated message.  Its lifetime is independent of the Page it appears in.
type Detail struct {
	Summary
	Cc          []string            `json:"cc,omitempty"`
	Header      map[string][]string `json:"header,omitempty"`
	Text        string              `json:"text,omitempty"`
	HTML        string              `json:"html,omitempty"`
	Attachments []Attachment        `json:"attachments,omitempty"`
	FetchedAt   time.Time           `json:"fetchedAt"`
}

// Clone returns a copy of the detail that shares no slices with d.  Header values are shared,
// they are never modified after hydration.
func (d *Detail) Clone() *Detail {
	if d == nil {
		return nil
	}
	c := *d
	c.Summary = d.Summary.Clone()
	c.Cc = append([]string(nil), d.Cc...)
	c.Attachments = append([]Attachment(nil), d.Attachments...)
	return &c
}

// SyncMeta records the last successful full sync.
type SyncMeta struct {
	LastSync time.Time `json:"lastSync"`
}

// Outgoing is a message to be sent.
type Outgoing struct {
	From    string   `json:"from,omitempty"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}
