package providers

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	now := time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC)
	msg := string(buildMessage("bot@example.com", "mod@example.com", "Report", "<p>hi</p>", "hi", now))

	assert.True(t, strings.HasPrefix(msg, "From: bot@example.com\r\nTo: mod@example.com\r\nSubject: Report\r\n"))
	assert.Contains(t, msg, "Date: Tue, 04 Mar 2025 08:00:00 +0000\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=\"utf-8\"\r\n\r\nhi\r\n")
	assert.Contains(t, msg, "Content-Type: text/html; charset=\"utf-8\"\r\n\r\n<p>hi</p>\r\n")

	i := strings.Index(msg, `boundary="`)
	require.Positive(t, i)
	boundary := msg[i+len(`boundary="`):]
	boundary = boundary[:strings.Index(boundary, `"`)]
	assert.Equal(t, 3, strings.Count(msg, "--"+boundary))
	assert.True(t, strings.HasSuffix(msg, "--"+boundary+"--\r\n"))
}

func TestSMTPSender_Send(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 2525, "user", "pass", "bot@example.com")

	var gotAddr, gotFrom string
	var gotTo []string
	var gotAuth smtp.Auth
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo = addr, a, from, to
		return nil
	}

	require.NoError(t, s.Send("mod@example.com", "s", "h", "p"))
	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, "bot@example.com", gotFrom)
	assert.Equal(t, []string{"mod@example.com"}, gotTo)
	assert.NotNil(t, gotAuth)

	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("refused") }
	assert.ErrorContains(t, s.Send("mod@example.com", "s", "h", "p"), "failed to send email: refused")
}

func TestSMTPSender_NoAuthWithoutUser(t *testing.T) {
	s := NewSMTPSender("localhost", 25, "", "", "bot@example.com")
	var gotAuth smtp.Auth = smtp.PlainAuth("", "x", "y", "z")
	s.sendMail = func(_ string, a smtp.Auth, _ string, _ []string, _ []byte) error {
		gotAuth = a
		return nil
	}
	require.NoError(t, s.Send("mod@example.com", "s", "h", "p"))
	assert.Nil(t, gotAuth)
}
