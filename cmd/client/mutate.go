package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/inbucket/mailsync/pkg/rest/client"
)

// mutateCmd applies the same change to each message ID given.
type mutateCmd struct {
	name     string
	synopsis string
	apply    func(ctx context.Context, c *client.Client, mailbox, id string) (string, error)

	mailbox string
}

var mutateCmds = []*mutateCmd{
	{
		name:     "read",
		synopsis: "mark messages read",
		apply: func(ctx context.Context, c *client.Client, mailbox, id string) (string, error) {
			return c.MarkRead(ctx, mailbox, id, true)
		},
	},
	{
		name:     "unread",
		synopsis: "mark messages unread",
		apply: func(ctx context.Context, c *client.Client, mailbox, id string) (string, error) {
			return c.MarkRead(ctx, mailbox, id, false)
		},
	},
	{
		name:     "star",
		synopsis: "star messages",
		apply: func(ctx context.Context, c *client.Client, mailbox, id string) (string, error) {
			return c.SetStarred(ctx, mailbox, id, true)
		},
	},
	{
		name:     "unstar",
		synopsis: "remove the star from messages",
		apply: func(ctx context.Context, c *client.Client, mailbox, id string) (string, error) {
			return c.SetStarred(ctx, mailbox, id, false)
		},
	},
	{
		name:     "delete",
		synopsis: "move messages to the trash",
		apply: func(ctx context.Context, c *client.Client, mailbox, id string) (string, error) {
			return c.DeleteMessage(ctx, mailbox, id)
		},
	},
}

func (m *mutateCmd) Name() string     { return m.name }
func (m *mutateCmd) Synopsis() string { return m.synopsis }
func (m *mutateCmd) Usage() string {
	return fmt.Sprintf(`%s [-mailbox name] <id>...:
	%s, printing whether each change was applied or queued
`, m.name, m.synopsis)
}

func (m *mutateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.mailbox, "mailbox", "INBOX", "mailbox listing the messages")
}

func (m *mutateCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usage("message ID required")
	}
	c, err := newClient()
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	for _, id := range f.Args() {
		status, err := m.apply(ctx, c, m.mailbox, id)
		if err != nil {
			return fatal(m.name+" "+id, err)
		}
		fmt.Printf("%s\t%s\n", id, status)
	}
	return subcommands.ExitSuccess
}

type moveCmd struct {
	from string
}

func (*moveCmd) Name() string     { return "move" }
func (*moveCmd) Synopsis() string { return "move a message to another mailbox" }
func (*moveCmd) Usage() string {
	return `move [-from name] <id> <mailbox>:
	move a message between mailboxes
`
}

func (m *moveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.from, "from", "INBOX", "mailbox the message is in")
}

func (m *moveCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		return usage("message ID and target mailbox required")
	}
	c, err := newClient()
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	status, err := c.Move(ctx, f.Arg(0), m.from, f.Arg(1))
	if err != nil {
		return fatal("move", err)
	}
	fmt.Printf("%s\t%s\n", f.Arg(0), status)
	return subcommands.ExitSuccess
}
