package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/inbucket/mailsync/pkg/rest/model"
)

type statusCmd struct{}

func (*statusCmd) Name() string     { return "status" }
func (*statusCmd) Synopsis() string { return "show daemon cache state" }
func (*statusCmd) Usage() string {
	return `status:
	show connectivity, cache sizes and queued mutations
`
}

func (*statusCmd) SetFlags(f *flag.FlagSet) {}

func (*statusCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	c, err := newClient()
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	s, err := c.Status(ctx)
	if err != nil {
		return fatal("REST call failed", err)
	}
	printStatus(os.Stdout, s)
	return subcommands.ExitSuccess
}

func printStatus(w io.Writer, s *model.JSONStatusV1) {
	state := "offline"
	if s.Online {
		state = "online"
	}
	fmt.Fprintf(w, "Version:  %s\n", s.Version)
	fmt.Fprintf(w, "Network:  %s since %s\n", state, s.OnlineSince.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Memory:   %d entries\n", s.Entries)
	fmt.Fprintf(w, "Stored:   %d label sets, %d pages, %d details\n", s.Labels, s.Pages, s.Details)
	if !s.LastSync.IsZero() {
		fmt.Fprintf(w, "Synced:   %s\n", s.LastSync.Local().Format(time.DateTime))
	}
	fmt.Fprintf(w, "Agent:    %v\n", s.Agent)
	for _, q := range s.Queued {
		fmt.Fprintf(w, "Queued:   %s %s in %s\n", q.Kind, q.MessageID, q.Mailbox)
	}
}

type syncCmd struct{}

func (*syncCmd) Name() string     { return "sync" }
func (*syncCmd) Synopsis() string { return "refresh labels and mailboxes" }
func (*syncCmd) Usage() string {
	return `sync [mailbox]...:
	refresh the label set and the first page of each mailbox (default INBOX)
`
}

func (*syncCmd) SetFlags(f *flag.FlagSet) {}

func (*syncCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	c, err := newClient()
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	if err := c.Sync(ctx, f.Args()...); err != nil {
		return fatal("REST call failed", err)
	}
	return subcommands.ExitSuccess
}

type clearCmd struct{}

func (*clearCmd) Name() string     { return "clear" }
func (*clearCmd) Synopsis() string { return "wipe every cache tier" }
func (*clearCmd) Usage() string {
	return `clear:
	discard cached mail in memory, on disk, and in the network agent
`
}

func (*clearCmd) SetFlags(f *flag.FlagSet) {}

func (*clearCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	c, err := newClient()
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	if err := c.ClearCache(ctx); err != nil {
		return fatal("REST call failed", err)
	}
	return subcommands.ExitSuccess
}

type agentCmd struct{}

func (*agentCmd) Name() string     { return "agent" }
func (*agentCmd) Synopsis() string { return "send a control command to the network agent" }
func (*agentCmd) Usage() string {
	return `agent <skip-waiting|clear-all|clear-api|prefetch> [url]...:
	post a control command; prefetch takes the URLs to cache
`
}

func (*agentCmd) SetFlags(f *flag.FlagSet) {}

func (*agentCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usage("command required")
	}
	c, err := newClient()
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	if err := c.AgentCommand(ctx, f.Arg(0), f.Args()[1:]...); err != nil {
		return fatal("REST call failed", err)
	}
	return subcommands.ExitSuccess
}
