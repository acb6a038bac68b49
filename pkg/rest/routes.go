package rest

import (
	"github.com/gorilla/mux"
	"github.com/inbucket/mailsync/pkg/server/web"
)

// SetupRoutes populates the routes for the REST interface
func SetupRoutes(r *mux.Router) {
	// API v1
	r.Path("/v1/labels").Handler(
		web.Handler(LabelsV1)).Name("LabelsV1").Methods("GET")
	r.Path("/v1/mailbox/{id}").Handler(
		web.Handler(MailboxListV1)).Name("MailboxListV1").Methods("GET")
	r.Path("/v1/mailbox/{id}/more").Handler(
		web.Handler(MailboxMoreV1)).Name("MailboxMoreV1").Methods("POST")
	r.Path("/v1/message/{id}").Handler(
		web.Handler(MessageShowV1)).Name("MessageShowV1").Methods("GET")
	r.Path("/v1/message/{id}").Handler(
		web.Handler(MessagePatchV1)).Name("MessagePatchV1").Methods("PATCH")
	r.Path("/v1/message/{id}").Handler(
		web.Handler(MessageDeleteV1)).Name("MessageDeleteV1").Methods("DELETE")
	r.Path("/v1/send").Handler(
		web.Handler(SendV1)).Name("SendV1").Methods("POST")
	r.Path("/v1/sync").Handler(
		web.Handler(SyncV1)).Name("SyncV1").Methods("POST")
	r.Path("/v1/status").Handler(
		web.Handler(StatusV1)).Name("StatusV1").Methods("GET")
	r.Path("/v1/cache").Handler(
		web.Handler(CacheClearV1)).Name("CacheClearV1").Methods("DELETE")
	r.Path("/v1/agent/{command}").Handler(
		web.Handler(AgentCommandV1)).Name("AgentCommandV1").Methods("POST")
	r.Path("/v1/monitor").Handler(
		web.Handler(MonitorCacheV1)).Name("MonitorCacheV1").Methods("GET")
}
