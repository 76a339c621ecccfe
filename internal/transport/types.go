package transport

import "context"

// Message is one inbound chat message, normalized across channels.
type Message struct {
	// Channel is the adapter name ("telegram", "whatsapp").
	Channel string
	// OwnerID addresses the sender on that channel: a chat id for Telegram,
	// a "whatsapp:+E164" address for WhatsApp.
	OwnerID  string
	Username string
	Text     string
}

// Handler answers one inbound message. The returned text, if non-empty,
// is sent back to the same owner.
type Handler func(ctx context.Context, msg Message) (reply string)

// Adapter is a chat channel.
type Adapter interface {
	Name() string
	// Start begins receiving messages and hands each to h. It returns once
	// the receive loop is running.
	Start(ctx context.Context, h Handler) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, ownerID, text string) error
}

// BotCommand is a command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters with a native command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
