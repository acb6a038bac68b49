package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/inbucket/mailsync/pkg/rest/model"
)

type showCmd struct {
	html bool
}

func (*showCmd) Name() string     { return "show" }
func (*showCmd) Synopsis() string { return "display a message" }
func (*showCmd) Usage() string {
	return `show [-html] <id>:
	print the headers and body of a message
`
}

func (s *showCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.html, "html", false, "print the sanitized HTML body instead of text")
}

func (s *showCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	id := f.Arg(0)
	if id == "" {
		return usage("message ID required")
	}
	c, err := newClient()
	if err != nil {
		return fatal("Couldn't build client", err)
	}
	msg, err := c.GetMessage(ctx, id)
	if err != nil {
		return fatal("REST call failed", err)
	}
	printMessage(os.Stdout, msg, s.html)
	return subcommands.ExitSuccess
}

func printMessage(w io.Writer, msg *model.JSONMessageV1, html bool) {
	fmt.Fprintf(w, "From:    %s\n", msg.From)
	fmt.Fprintf(w, "To:      %s\n", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(w, "Cc:      %s\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(w, "Date:    %s\n", msg.Date.Local().Format(time.RFC1123Z))
	fmt.Fprintf(w, "Subject: %s\n", msg.Subject)
	for _, a := range msg.Attachments {
		fmt.Fprintf(w, "Attach:  %s (%s, %d bytes)\n", a.FileName, a.ContentType, a.Size)
	}
	if msg.Stale {
		fmt.Fprintf(w, "Cached:  %s (stale)\n", msg.FetchedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(w)
	if msg.Body == nil {
		return
	}
	if html {
		fmt.Fprintln(w, msg.Body.HTML)
	} else {
		fmt.Fprintln(w, msg.Body.Text)
	}
}
