package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/docplus/portal/internal/realtime"
)

// ChatRelayNotifier wraps a message store and sends email notifications as
// a side effect of persistence: an alert to the on-call inbox for emergency
// messages, and a missed-message email when the recipient has no live
// connection. Email failures never fail the store call.
type ChatRelayNotifier struct {
	inner realtime.MessageStore
	mgr   *Manager
	log   zerolog.Logger

	// OnCallEmail receives emergency alerts. Empty disables them.
	OnCallEmail string
	// Online reports whether a user has a live connection. Nil treats
	// everyone as online.
	Online func(userID string) bool
	// EmailFor resolves a user's notification address. Nil disables
	// missed-message email.
	EmailFor func(ctx context.Context, userID string) (string, error)
}

// NewChatRelayNotifier wraps the given store.
func NewChatRelayNotifier(inner realtime.MessageStore, mgr *Manager, log zerolog.Logger) *ChatRelayNotifier {
	return &ChatRelayNotifier{inner: inner, mgr: mgr, log: log}
}

var _ realtime.MessageStore = (*ChatRelayNotifier)(nil)

func (n *ChatRelayNotifier) CreateMessage(ctx context.Context, m *realtime.ChatMessage) error {
	if err := n.inner.CreateMessage(ctx, m); err != nil {
		return err
	}

	if m.IsEmergency && n.OnCallEmail != "" {
		_, err := n.mgr.SendFromTemplate(ctx, "emergency-alert", map[string]string{
			"patient_id": m.SenderID,
			"message":    m.Content,
			"time":       m.Timestamp.Format("15:04 MST"),
		}, n.OnCallEmail)
		if err != nil {
			n.log.Warn().Err(err).Str("message", m.ID).Msg("emergency alert email failed")
		}
	}

	if n.EmailFor != nil && (n.Online == nil || !n.Online(m.ReceiverID)) {
		n.notifyOffline(ctx, m)
	}
	return nil
}

func (n *ChatRelayNotifier) notifyOffline(ctx context.Context, m *realtime.ChatMessage) {
	addr, err := n.EmailFor(ctx, m.ReceiverID)
	if err != nil || addr == "" {
		n.log.Debug().Str("user", m.ReceiverID).Msg("no notification address for offline recipient")
		return
	}
	_, err = n.mgr.SendFromTemplate(ctx, "chat-message-offline", map[string]string{
		"sender_name": m.SenderID,
	}, addr)
	if err != nil {
		n.log.Warn().Err(err).Str("user", m.ReceiverID).Msg("missed-message email failed")
	}
}

func (n *ChatRelayNotifier) GetMessagesByIDs(ctx context.Context, ids []string) ([]*realtime.ChatMessage, error) {
	return n.inner.GetMessagesByIDs(ctx, ids)
}

func (n *ChatRelayNotifier) UpdateMessageStatus(ctx context.Context, ids []string, status realtime.MessageStatus) error {
	return n.inner.UpdateMessageStatus(ctx, ids, status)
}
