package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/inbucket/mailsync/pkg/rest/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexFlag(t *testing.T) {
	var r regexFlag
	assert.False(t, r.Defined())
	assert.Equal(t, "", r.String())

	require.NoError(t, r.Set("^a.c$"))
	assert.True(t, r.Defined())
	assert.Equal(t, "^a.c$", r.String())

	require.NoError(t, r.Set(""))
	assert.False(t, r.Defined())

	assert.Error(t, r.Set("("))
}

func TestListMatch(t *testing.T) {
	header := &model.JSONMessageHeaderV1{
		ID:      "m1",
		From:    "Alice <alice@example.com>",
		To:      []string{"Bob <bob@example.com>", "carol@example.com"},
		Subject: "Quarterly report",
		Date:    time.Now().Add(-time.Hour),
		Unread:  true,
	}
	setRegex := func(r *regexFlag, pattern string) {
		require.NoError(t, r.Set(pattern))
	}

	tcs := []struct {
		name  string
		setup func(*listCmd)
		want  bool
	}{
		{"no criteria", func(*listCmd) {}, true},
		{"unread", func(l *listCmd) { l.unread = true }, true},
		{"subject match", func(l *listCmd) { setRegex(&l.subject, "report$") }, true},
		{"subject miss", func(l *listCmd) { setRegex(&l.subject, "^invoice") }, false},
		{"from ignores name", func(l *listCmd) { setRegex(&l.from, "^alice@") }, true},
		{"from name is not matched", func(l *listCmd) { setRegex(&l.from, "^Alice") }, false},
		{"any to matches", func(l *listCmd) { setRegex(&l.to, "^carol@") }, true},
		{"to miss", func(l *listCmd) { setRegex(&l.to, "^dave@") }, false},
		{"within max age", func(l *listCmd) { l.maxAge = 2 * time.Hour }, true},
		{"older than max age", func(l *listCmd) { l.maxAge = time.Minute }, false},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			l := &listCmd{}
			tc.setup(l)
			assert.Equal(t, tc.want, l.match(header))
		})
	}

	read := *header
	read.Unread = false
	assert.False(t, (&listCmd{unread: true}).match(&read))
}

func TestOutputFormats(t *testing.T) {
	headers := []*model.JSONMessageHeaderV1{
		{ID: "m1", From: "a@example.com", Subject: "one", Unread: true},
		{ID: "m2", From: "b@example.com", Subject: "two", Starred: true},
	}

	var buf bytes.Buffer
	require.NoError(t, outputID(&buf, headers))
	assert.Equal(t, "m1\nm2\n", buf.String())

	buf.Reset()
	require.NoError(t, outputTable(&buf, headers))
	assert.Contains(t, buf.String(), "m1  U-")
	assert.Contains(t, buf.String(), "m2  -*")

	buf.Reset()
	require.NoError(t, outputJSON(&buf, headers))
	assert.Contains(t, buf.String(), `"id": "m2"`)
}

func TestPrintMessage(t *testing.T) {
	msg := &model.JSONMessageV1{
		JSONMessageHeaderV1: model.JSONMessageHeaderV1{
			From:    "a@example.com",
			To:      []string{"b@example.com", "c@example.com"},
			Subject: "hello",
		},
		Body: &model.JSONMessageBodyV1{Text: "plain body", HTML: "<p>html body</p>"},
		Attachments: []*model.JSONMessageAttachmentV1{
			{FileName: "a.pdf", ContentType: "application/pdf", Size: 42},
		},
		Stale: true,
	}

	var buf bytes.Buffer
	printMessage(&buf, msg, false)
	out := buf.String()
	assert.Contains(t, out, "To:      b@example.com, c@example.com\n")
	assert.Contains(t, out, "Subject: hello\n")
	assert.Contains(t, out, "a.pdf (application/pdf, 42 bytes)")
	assert.Contains(t, out, "(stale)")
	assert.Contains(t, out, "plain body")
	assert.NotContains(t, out, "html body")

	buf.Reset()
	printMessage(&buf, msg, true)
	assert.Contains(t, buf.String(), "<p>html body</p>")
}

func TestPrintStatus(t *testing.T) {
	s := &model.JSONStatusV1{
		Version: "1.0",
		Online:  false,
		Entries: 3,
		Pages:   2,
		Queued: []*model.JSONQueuedV1{
			{Kind: "star", MessageID: "m1", Mailbox: "INBOX"},
		},
	}
	var buf bytes.Buffer
	printStatus(&buf, s)
	out := buf.String()
	assert.Contains(t, out, "Network:  offline")
	assert.Contains(t, out, "Memory:   3 entries")
	assert.Contains(t, out, "0 label sets, 2 pages, 0 details")
	assert.Contains(t, out, "Queued:   star m1 in INBOX")
	assert.NotContains(t, out, "Synced:")
}
