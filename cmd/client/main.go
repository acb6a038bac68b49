// Package main implements a command line client for the mailsync local API
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"

	"github.com/google/subcommands"
	"github.com/inbucket/mailsync/pkg/rest/client"
)

var host = flag.String("host", "localhost", "host/IP of mailsync daemon")
var port = flag.Uint("port", 9300, "HTTP port of mailsync daemon")

// Allow subcommands to accept regular expressions as flags
type regexFlag struct {
	*regexp.Regexp
}

func (r *regexFlag) Defined() bool {
	return r.Regexp != nil
}

func (r *regexFlag) Set(pattern string) error {
	if pattern == "" {
		r.Regexp = nil
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.Regexp = re
	return nil
}

func (r *regexFlag) String() string {
	if r.Regexp == nil {
		return ""
	}
	return r.Regexp.String()
}

// regexFlag must implement flag.Value
var _ flag.Value = &regexFlag{}

func main() {
	// Important top-level flags
	subcommands.ImportantFlag("host")
	subcommands.ImportantFlag("port")

	// Setup standard helpers
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	// Setup my commands
	subcommands.Register(&labelsCmd{}, "")
	subcommands.Register(&listCmd{}, "")
	subcommands.Register(&showCmd{}, "")
	for _, m := range mutateCmds {
		subcommands.Register(m, "mutate")
	}
	subcommands.Register(&moveCmd{}, "mutate")
	subcommands.Register(&statusCmd{}, "daemon")
	subcommands.Register(&syncCmd{}, "daemon")
	subcommands.Register(&clearCmd{}, "daemon")
	subcommands.Register(&agentCmd{}, "daemon")

	// Parse and execute
	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

func baseURL() string {
	return "http://" + net.JoinHostPort(*host, strconv.FormatUint(uint64(*port), 10))
}

func newClient() (*client.Client, error) {
	return client.New(baseURL())
}

func fatal(msg string, err error) subcommands.ExitStatus {
	if client.IsOffline(err) {
		fmt.Fprintf(os.Stderr, "%s: offline and nothing cached\n", msg)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return subcommands.ExitFailure
}

func usage(msg string) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, msg)
	return subcommands.ExitUsageError
}
