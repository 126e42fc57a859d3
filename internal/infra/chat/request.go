package chat

import (
	"context"
	"errors"
)

// Request is the routed update passed to a HandlerFunc.
type Request struct {
	Update Update
	// Match holds the pattern's submatches; Match[0] is the whole match.
	// It is nil for the default handler.
	Match []string
	// CorrelationID identifies this dispatch in logs and spans.
	CorrelationID string

	transport Transport
}

// Text returns the message text, inline query or callback data.
func (r *Request) Text() string {
	switch {
	case r.Update.Message != nil:
		return r.Update.Message.Text
	case r.Update.InlineQuery != nil:
		return r.Update.InlineQuery.Query
	case r.Update.CallbackQuery != nil:
		return r.Update.CallbackQuery.Data
	}
	return ""
}

// ChatID returns the chat the update came from, or 0 for inline queries.
func (r *Request) ChatID() int64 {
	switch {
	case r.Update.Message != nil:
		return r.Update.Message.Chat.ID
	case r.Update.CallbackQuery != nil && r.Update.CallbackQuery.Message != nil:
		return r.Update.CallbackQuery.Message.Chat.ID
	}
	return 0
}

// Send posts text to the originating chat.
func (r *Request) Send(ctx context.Context, text string) error {
	id := r.ChatID()
	if id == 0 {
		return errors.New("update has no chat to send to")
	}
	return r.transport.SendMessage(ctx, id, text, 0)
}

// Reply posts text as a reply to the originating message.
func (r *Request) Reply(ctx context.Context, text string) error {
	if r.Update.Message == nil {
		return r.Send(ctx, text)
	}
	return r.transport.SendMessage(ctx, r.Update.Message.Chat.ID, text, r.Update.Message.MessageID)
}

// AnswerCallback acknowledges the callback query carried by the update.
func (r *Request) AnswerCallback(ctx context.Context, text string) error {
	if r.Update.CallbackQuery == nil {
		return errors.New("update is not a callback query")
	}
	return r.transport.AnswerCallback(ctx, r.Update.CallbackQuery.ID, text)
}
