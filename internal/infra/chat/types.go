package chat

// User is a Telegram user or bot account.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat identifies a conversation.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"` // "private", "group", "supergroup" or "channel"
	Title string `json:"title,omitempty"`
}

// Private reports whether the chat is a one-to-one conversation.
func (c Chat) Private() bool { return c.Type == "private" }

// Message is an incoming text message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

// InlineQuery is a query typed after the bot's @username in any chat.
type InlineQuery struct {
	ID     string `json:"id"`
	From   User   `json:"from"`
	Query  string `json:"query"`
	Offset string `json:"offset"`
}

// CallbackQuery is sent when a user presses an inline keyboard button.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// Update is one event returned by getUpdates. At most one payload is set.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	InlineQuery   *InlineQuery   `json:"inline_query,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// Update kinds.
const (
	KindMessage  = "message"
	KindInline   = "inline_query"
	KindCallback = "callback_query"
	KindUnknown  = "unknown"
)

// Kind names the payload carried by u.
func (u Update) Kind() string {
	switch {
	case u.Message != nil:
		return KindMessage
	case u.InlineQuery != nil:
		return KindInline
	case u.CallbackQuery != nil:
		return KindCallback
	default:
		return KindUnknown
	}
}
