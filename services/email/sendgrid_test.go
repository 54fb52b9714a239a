package emailsvc

import (
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edupay/feeledger/core"
)

func Test_sendgridService_prepare(t *testing.T) {
	conf := core.NewTestConfig()
	svc := NewSendgridService(conf, nil).(*sendgridService)

	m := svc.prepare(core.EmailMessage{
		To:          []mail.Address{{Name: "Bursar", Address: "bursar@school.ng"}},
		Subject:     "Fee full operation failed",
		TextContent: "details",
	})

	assert.Equal(t, "noreply@localhost", m.From.Address)
	if assert.Len(t, m.Personalizations, 1) {
		assert.Equal(t, "[Feeledger] Fee full operation failed", m.Personalizations[0].Subject)
		assert.Equal(t, "bursar@school.ng", m.Personalizations[0].To[0].Address)
	}
	assert.Len(t, m.Content, 1)
}

func TestConsoleServiceMock_SendMessages(t *testing.T) {
	svc := NewConsoleServiceMock(core.NewTestConfig())

	svc.SendMessages(
		&core.EmailMessage{To: []mail.Address{{Address: "a@school.ng"}}, Subject: "sent", TextContent: "x"},
		&core.EmailMessage{Subject: "no recipients", TextContent: "x"},
		&core.EmailMessage{To: []mail.Address{{Address: "a@school.ng"}}, Subject: "no content"},
	)

	sent := svc.SentMessages()
	if assert.Len(t, sent, 1) {
		assert.Equal(t, "sent", sent[0].Subject)
	}
}
