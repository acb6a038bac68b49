package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"github.com/inbucket/mailsync/pkg/rest/model"
)

type labelsCmd struct{}

func (*labelsCmd) Name() string     { return "labels" }
func (*labelsCmd) Synopsis() string { return "list mailbox folders" }
func (*labelsCmd) Usage() string {
	return `labels:
	list folders with total and unread counts
`
}

func (*labelsCmd) SetFlags(f *flag.FlagSet) {}

func (*labelsCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	c, err := newClient()
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	ls, err := c.Labels(ctx)
	if err != nil {
		return fatal("REST call failed", err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	for _, l := range ls.Labels {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", l.ID, l.Name, l.Total, l.Unread)
	}
	if ls.Stale {
		fmt.Fprintf(tw, "(stale, fetched %s)\n", ls.FetchedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
	return subcommands.ExitSuccess
}

type listCmd struct {
	output  string
	more    bool
	unread  bool
	from    regexFlag
	subject regexFlag
	to      regexFlag
	maxAge  time.Duration
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list messages in mailbox" }
func (*listCmd) Usage() string {
	return `list [flags] [mailbox]:
	list messages in mailbox (default INBOX) matching all specified criteria
	exit status will be 1 if no matches were found, otherwise 0
`
}

func (l *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.output, "output", "id", "output format: id, table, or json")
	f.BoolVar(&l.more, "more", false, "load the next page instead of the current one")
	f.BoolVar(&l.unread, "unread", false, "only unread messages")
	f.Var(&l.from, "from", "From header matching regexp (address, not name)")
	f.Var(&l.subject, "subject", "Subject header matching regexp")
	f.Var(&l.to, "to", "To header matching regexp (must match 1+ to address)")
	f.DurationVar(
		&l.maxAge, "maxage", 0,
		"Matches must have been received in this time frame (ex: \"10s\", \"5m\")")
}

func (l *listCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	mailbox := f.Arg(0)
	if mailbox == "" {
		mailbox = "INBOX"
	}
	var out func(io.Writer, []*model.JSONMessageHeaderV1) error
	switch l.output {
	case "id":
		out = outputID
	case "table":
		out = outputTable
	case "json":
		out = outputJSON
	default:
		return usage("unknown output type: " + l.output)
	}
	c, err := newClient()
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	var mb *model.JSONMailboxV1
	if l.more {
		mb, err = c.LoadMore(ctx, mailbox)
	} else {
		mb, err = c.ListMailbox(ctx, mailbox)
	}
	if err != nil {
		return fatal("List REST call failed", err)
	}
	matches := make([]*model.JSONMessageHeaderV1, 0, len(mb.Messages))
	for _, h := range mb.Messages {
		if l.match(h) {
			matches = append(matches, h)
		}
	}
	if len(matches) == 0 {
		return subcommands.ExitFailure
	}
	if err := out(os.Stdout, matches); err != nil {
		return fatal("Error", err)
	}
	return subcommands.ExitSuccess
}

// match returns true if header matches all defined criteria
func (l *listCmd) match(header *model.JSONMessageHeaderV1) bool {
	if l.unread && !header.Unread {
		return false
	}
	if l.maxAge > 0 {
		if time.Since(header.Date) > l.maxAge {
			return false
		}
	}
	if l.subject.Defined() {
		if !l.subject.MatchString(header.Subject) {
			return false
		}
	}
	if l.from.Defined() {
		if !l.from.MatchString(address(header.From)) {
			return false
		}
	}
	if l.to.Defined() {
		match := false
		for _, to := range header.To {
			if l.to.MatchString(address(to)) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// address strips the display name when s parses as an address.
func address(s string) string {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address
	}
	return s
}

func outputID(w io.Writer, headers []*model.JSONMessageHeaderV1) error {
	for _, h := range headers {
		if _, err := fmt.Fprintln(w, h.ID); err != nil {
			return err
		}
	}
	return nil
}

func outputTable(w io.Writer, headers []*model.JSONMessageHeaderV1) error {
	tw := tabwriter.NewWriter(w, 1, 0, 2, ' ', 0)
	for _, h := range headers {
		flags := []byte("--")
		if h.Unread {
			flags[0] = 'U'
		}
		if h.Starred {
			flags[1] = '*'
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			h.ID, flags, h.Date.Local().Format(time.DateTime), h.From, h.Subject)
	}
	return tw.Flush()
}

func outputJSON(w io.Writer, headers []*model.JSONMessageHeaderV1) error {
	jsonEncoder := json.NewEncoder(w)
	jsonEncoder.SetEscapeHTML(false)
	jsonEncoder.SetIndent("", "  ")
	return jsonEncoder.Encode(headers)
}
