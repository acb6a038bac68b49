package web

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/inbucket/mailsync/pkg/agent"
	"github.com/inbucket/mailsync/pkg/config"
	"github.com/inbucket/mailsync/pkg/connectivity"
	"github.com/inbucket/mailsync/pkg/msghub"
	"github.com/inbucket/mailsync/pkg/query"
)

// Context is passed into every request handler function.
type Context struct {
	Vars       map[string]string
	MsgHub     *msghub.Hub
	Cache      *query.Cache
	Agent      *agent.Agent // nil when the network agent is disabled
	Monitor    *connectivity.Monitor
	RootConfig *config.Root
	IsJSON     bool
}

// Close the Context (currently does nothing)
func (c *Context) Close() {
	// Do nothing
}

// headerMatch returns true if the request header specified by name contains
// the specified value.  Case is ignored.
func headerMatch(req *http.Request, name string, value string) bool {
	name = http.CanonicalHeaderKey(name)
	value = strings.ToLower(value)

	if header := req.Header[name]; header != nil {
		for _, hv := range header {
			if value == strings.ToLower(hv) {
				return true
			}
		}
	}

	return false
}

// NewContext returns a Context for the given HTTP Request
func NewContext(req *http.Request) (*Context, error) {
	vars := mux.Vars(req)
	ctx := &Context{
		Vars:       vars,
		MsgHub:     services.MsgHub,
		Cache:      services.Cache,
		Agent:      services.Agent,
		Monitor:    services.Monitor,
		RootConfig: rootConfig,
		IsJSON:     headerMatch(req, "Accept", "application/json"),
	}
	return ctx, nil
}
