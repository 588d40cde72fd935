package email

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, msg Message) error {
	args := m.Called(ctx, msg)

	return args.Error(0)
}

func TestNode_Execute(t *testing.T) {
	t.Parallel()

	ec := &models.ExecutionContext{
		ExecutionID: "exec-1",
		Trigger:     map[string]any{"site": "Dock 4"},
	}

	t.Run("renders and sends", func(t *testing.T) {
		t.Parallel()

		mailer := &MockMailer{}
		mailer.On("Send", mock.Anything, Message{
			To:       []string{"pm@example.com", "safety@example.com"},
			Subject:  "Incident at Dock 4",
			Template: "incident",
		}).Return(nil)

		node, err := NewNode("n1", map[string]any{
			"to":       "pm@example.com; safety@example.com",
			"subject":  "Incident at {{ .trigger.site }}",
			"template": "incident",
		}, mailer)
		require.NoError(t, err)

		result, err := node.Execute(context.Background(), ec)
		require.NoError(t, err)
		assert.Equal(t, "Incident at Dock 4", result.Data["subject"])
		mailer.AssertExpectations(t)
	})

	t.Run("mailer failure fails node", func(t *testing.T) {
		t.Parallel()

		mailer := &MockMailer{}
		mailer.On("Send", mock.Anything, mock.AnythingOfType("email.Message")).Return(errors.New("relay refused"))

		node, err := NewNode("n1", map[string]any{"to": "pm@example.com"}, mailer)
		require.NoError(t, err)

		_, err = node.Execute(context.Background(), ec)
		require.EqualError(t, err, "relay refused")
	})

	t.Run("missing recipients fail when visited", func(t *testing.T) {
		t.Parallel()

		mailer := &MockMailer{}

		node, err := NewNode("n1", map[string]any{"subject": "x"}, mailer)
		require.NoError(t, err)

		_, err = node.Execute(context.Background(), ec)
		require.Error(t, err)
		mailer.AssertNotCalled(t, "Send")
	})
}

func TestSMTPMailer_Send(t *testing.T) {
	t.Parallel()

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)

	mailer := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 2525, From: "noreply@example.com"})
	mailer.send = func(addr string, _ smtp.Auth, _ string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)

		return nil
	}

	err := mailer.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "Hi", Body: "Body"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:2525", gotAddr)
	assert.Equal(t, []string{"a@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Hi\r\n")
	assert.Contains(t, gotMsg, "\r\n\r\nBody")
}
