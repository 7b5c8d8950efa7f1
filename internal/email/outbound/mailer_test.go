package outbound

import (
	"context"
	"testing"

	"github.com/flosch/pongo2/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const templateDir = "../../../templates/emails"

type fakeSender struct {
	sent []*Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg *Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func newTestMailer(t *testing.T, sender Sender) *Mailer {
	t.Helper()
	mailer, err := NewMailer(sender, templateDir, "Citizen Spring <hello@citizenspring.be>")
	require.NoError(t, err)
	return mailer
}

func TestMailerSendRendersTemplate(t *testing.T) {
	sender := &fakeSender{}
	mailer := newTestMailer(t, sender)

	err := mailer.Send(context.Background(), []string{"alice@example.com"}, "Your sign-in code", "shortcode",
		pongo2.Context{"code": "12345"}, nil)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, []string{"alice@example.com"}, msg.To)
	assert.Equal(t, "Your sign-in code", msg.Subject)
	assert.Equal(t, "Citizen Spring <hello@citizenspring.be>", msg.From)
	assert.Contains(t, msg.HTML, "12345")
}

func TestMailerSendUnknownTemplate(t *testing.T) {
	mailer := newTestMailer(t, &fakeSender{})
	err := mailer.Send(context.Background(), []string{"a@b.c"}, "s", "no-such-template", pongo2.Context{}, nil)
	assert.Error(t, err)
}

func TestMailerExcludesAddresses(t *testing.T) {
	sender := &fakeSender{}
	mailer := newTestMailer(t, sender)

	err := mailer.Send(context.Background(),
		[]string{"alice@example.com", "bob@example.com"},
		"Your sign-in code", "shortcode", pongo2.Context{"code": "1"},
		&SendOptions{
			Cc:      []string{"Carol <carol@example.com>"},
			Exclude: []string{"ALICE@example.com", "carol@example.com"},
		})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"bob@example.com"}, sender.sent[0].To)
	assert.Empty(t, sender.sent[0].Cc)
}

func TestMailerSkipsWhenNoRecipientsLeft(t *testing.T) {
	sender := &fakeSender{}
	mailer := newTestMailer(t, sender)

	err := mailer.Send(context.Background(), []string{"alice@example.com"},
		"Your sign-in code", "shortcode", pongo2.Context{"code": "1"},
		&SendOptions{Exclude: []string{"alice@example.com"}})
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestMailerHeadersAndReplyTo(t *testing.T) {
	sender := &fakeSender{}
	mailer := newTestMailer(t, sender)

	opts := &SendOptions{
		From:    "Alice <testgroup@citizenspring.be>",
		ReplyTo: "testgroup/1/1@citizenspring.be",
		Headers: map[string]string{"Message-Id": "<testgroup/1/1@citizenspring.be>"},
	}
	err := mailer.Send(context.Background(), []string{"bob@example.com"},
		"Hello", "shortcode", pongo2.Context{"code": "1"}, opts)
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	msg := sender.sent[0]
	assert.Equal(t, "Alice <testgroup@citizenspring.be>", msg.From)
	assert.Equal(t, "testgroup/1/1@citizenspring.be", msg.ReplyTo)
	assert.Equal(t, "<testgroup/1/1@citizenspring.be>", msg.Headers["Message-Id"])
}

func TestEnvelopeAddress(t *testing.T) {
	assert.Equal(t, "a@b.c", envelopeAddress("Name <a@b.c>"))
	assert.Equal(t, "a@b.c", envelopeAddress("a@b.c"))
	assert.Equal(t, "a@b.c", envelopeAddress("  a@b.c  "))
}
