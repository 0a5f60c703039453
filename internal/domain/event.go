package domain

import "time"

// InboundEvent is one message pulled from the chat platform. Events are
// tagged with a monotonically increasing ID used as the cursor.
type InboundEvent struct {
	ID        int64
	ChatID    int64
	Text      string
	Contact   *Contact // structured contact payload, if the user shared one
	Timestamp time.Time
}

// Contact is a structured phone-number share.
type Contact struct {
	PhoneNumber string
}

// Reply is one outbound message produced by the conversation engine.
// Keyboard and ImagePath are rendering hints for the transport; an empty
// Keyboard with RemoveKeyboard set clears any previous reply keyboard.
type Reply struct {
	Text           string
	Keyboard       [][]KeyboardButton
	RemoveKeyboard bool
	ImagePath      string // optional photo sent before the text
}

// KeyboardButton is a single reply-keyboard button.
type KeyboardButton struct {
	Label          string
	RequestContact bool
}
