package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marginalia-wiki/marginalia/setup/config"
)

func TestNewSMTPSenderValidatesFrom(t *testing.T) {
	_, err := NewSMTPSender(&config.Notifications{From: "not an address"})
	assert.Error(t, err)

	sender, err := NewSMTPSender(&config.Notifications{From: "Moderation <moderation@example.org>"})
	require.NoError(t, err)
	assert.Equal(t, "moderation@example.org", sender.from.Address)
}

func TestBuildMessage(t *testing.T) {
	sender, err := NewSMTPSender(&config.Notifications{From: "moderation@example.org"})
	require.NoError(t, err)

	msg := sender.buildMessage(
		[]string{"a@example.org", "b@example.org"},
		"New changes are awaiting moderation",
		"A new change is waiting.\n",
	)

	headers, body, found := strings.Cut(msg, "\r\n\r\n")
	require.True(t, found, "message must separate headers from body")
	assert.Contains(t, headers, "From: <moderation@example.org>")
	assert.Contains(t, headers, "To: a@example.org, b@example.org")
	assert.Contains(t, headers, "Subject: New changes are awaiting moderation")
	assert.Contains(t, headers, "Date: ")
	assert.Contains(t, headers, "Content-Type: text/plain; charset=UTF-8")
	assert.Equal(t, "A new change is waiting.\n", body)
}
