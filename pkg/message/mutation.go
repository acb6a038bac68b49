package message

import "fmt"

// Mutation is a user action applied optimistically to cached state.  The set of mutations is
// closed: ReadMutation, StarMutation, DeleteMutation and MoveMutation.
type Mutation interface {
	// MessageID returns the ID of the message being mutated.
	MessageID() string
	// Kind returns a short name for logging and events.
	Kind() string
	mutation()
}

// ReadMutation marks a message read (Read == true) or unread.
type ReadMutation struct {
	ID   string `json:"id"`
	Read bool   `json:"read"`
}

// StarMutation sets or clears the starred flag.
type StarMutation struct {
	ID      string `json:"id"`
	Starred bool   `json:"starred"`
}

// DeleteMutation moves a message to the trash.
type DeleteMutation struct {
	ID string `json:"id"`
}

// MoveMutation moves a message from one label to another.
type MoveMutation struct {
	ID     string `json:"id"`
	From   string `json:"from"`
	Target string `json:"target"`
}

func (ReadMutation) mutation()   {}
func (StarMutation) mutation()   {}
func (DeleteMutation) mutation() {}
func (MoveMutation) mutation()   {}

// MessageID implements Mutation.
func (m ReadMutation) MessageID() string { return m.ID }

// MessageID implements Mutation.
func (m StarMutation) MessageID() string { return m.ID }

// MessageID implements Mutation.
func (m DeleteMutation) MessageID() string { return m.ID }

// MessageID implements Mutation.
func (m MoveMutation) MessageID() string { return m.ID }

// Kind implements Mutation.
func (m ReadMutation) Kind() string {
	if m.Read {
		return "read"
	}
	return "unread"
}

// Kind implements Mutation.
func (m StarMutation) Kind() string {
	if m.Starred {
		return "star"
	}
	return "unstar"
}

// Kind implements Mutation.
func (DeleteMutation) Kind() string { return "delete" }

// Kind implements Mutation.
func (MoveMutation) Kind() string { return "move" }

// ApplyToPage returns a copy of p with the optimistic effect of m applied.  The original page is
// left untouched so that it can serve as a rollback snapshot.
func ApplyToPage(p *Page, m Mutation) *Page {
	if p == nil {
		return nil
	}
	out := p.Clone()
	i := out.Index(m.MessageID())
	if i < 0 {
		return out
	}
	switch m := m.(type) {
	case ReadMutation:
		applySummaryRead(&out.Messages[i], m.Read)
	case StarMutation:
		applySummaryStar(&out.Messages[i], m.Starred)
	case DeleteMutation:
		out.Messages = append(out.Messages[:i], out.Messages[i+1:]...)
	case MoveMutation:
		if out.MailboxID == m.Target {
			applySummaryMove(&out.Messages[i], m.From, m.Target)
		} else {
			out.Messages = append(out.Messages[:i], out.Messages[i+1:]...)
		}
	default:
		panic(fmt.Sprintf("message: unhandled mutation %T", m))
	}
	return out
}

// ApplyToDetail returns a copy of d with the optimistic effect of m applied.
func ApplyToDetail(d *Detail, m Mutation) *Detail {
	if d == nil || d.ID != m.MessageID() {
		return d
	}
	out := d.Clone()
	switch m := m.(type) {
	case ReadMutation:
		applySummaryRead(&out.Summary, m.Read)
	case StarMutation:
		applySummaryStar(&out.Summary, m.Starred)
	case DeleteMutation:
		out.LabelIDs = setLabel(out.LabelIDs, LabelTrash, true)
		out.LabelIDs = setLabel(out.LabelIDs, LabelInbox, false)
	case MoveMutation:
		applySummaryMove(&out.Summary, m.From, m.Target)
	default:
		panic(fmt.Sprintf("message: unhandled mutation %T", m))
	}
	return out
}

// LabelChanges returns the label IDs the remote service must add and remove to carry out m.
// DeleteMutation returns no changes; it is carried out with a distinct trash call.
func LabelChanges(m Mutation) (add, remove []string) {
	switch m := m.(type) {
	case ReadMutation:
		if m.Read {
			return nil, []string{LabelUnread}
		}
		return []string{LabelUnread}, nil
	case StarMutation:
		if m.Starred {
			return []string{LabelStarred}, nil
		}
		return nil, []string{LabelStarred}
	case DeleteMutation:
		return nil, nil
	case MoveMutation:
		if m.From == "" || m.From == m.Target {
			return []string{m.Target}, nil
		}
		return []string{m.Target}, []string{m.From}
	default:
		panic(fmt.Sprintf("message: unhandled mutation %T", m))
	}
}

func applySummaryRead(s *Summary, read bool) {
	s.Unread = !read
	s.LabelIDs = setLabel(s.LabelIDs, LabelUnread, !read)
}

func applySummaryStar(s *Summary, starred bool) {
	s.Starred = starred
	s.LabelIDs = setLabel(s.LabelIDs, LabelStarred, starred)
}

func applySummaryMove(s *Summary, from, target string) {
	if from != "" && from != target {
		s.LabelIDs = setLabel(s.LabelIDs, from, false)
	}
	s.LabelIDs = setLabel(s.LabelIDs, target, true)
}

// setLabel adds or removes id from labels, returning the updated slice.
func setLabel(labels []string, id string, present bool) []string {
	out := labels[:0:0]
	found := false
	for _, l := range labels {
		if l == id {
			found = true
			if !present {
				continue
			}
		}
		out = append(out, l)
	}
	if present && !found {
		out = append(out, id)
	}
	return out
}
