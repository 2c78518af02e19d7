package notify

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// CommandHandler answers one operator command. It must not mutate trading
// state.
type CommandHandler interface {
	Handle(ctx context.Context, text string) string
}

// UpdateSource yields chat updates and sends replies.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
	SendMessage(ctx context.Context, chatID, text string) error
}

// CommandListener long-polls Telegram and answers slash commands from the
// operator chat. Messages from any other chat are ignored.
type CommandListener struct {
	source      UpdateSource
	handler     CommandHandler
	allowedChat string
	pollTimeout time.Duration
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewCommandListener creates a listener that only serves allowedChat.
func NewCommandListener(source UpdateSource, handler CommandHandler, allowedChat string, logger *slog.Logger) *CommandListener {
	return &CommandListener{
		source:      source,
		handler:     handler,
		allowedChat: allowedChat,
		pollTimeout: 30 * time.Second,
		retryDelay:  5 * time.Second,
		logger:      logger.With(slog.String("component", "command_listener")),
	}
}

// Run polls until ctx is cancelled.
func (l *CommandListener) Run(ctx context.Context) error {
	l.logger.Info("command listener started")
	defer l.logger.Info("command listener stopped")

	var offset int64
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := l.source.GetUpdates(ctx, offset, l.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.WarnContext(ctx, "get updates failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.retryDelay):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			l.serve(ctx, u)
		}
	}
}

func (l *CommandListener) serve(ctx context.Context, u Update) {
	if u.Message == nil {
		return
	}
	text := strings.TrimSpace(u.Message.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	chat := strconv.FormatInt(u.Message.Chat.ID, 10)
	if chat != l.allowedChat {
		l.logger.WarnContext(ctx, "command from unknown chat ignored", slog.String("chat_id", chat))
		return
	}

	reply := l.handler.Handle(ctx, text)
	if reply == "" {
		return
	}
	if err := l.source.SendMessage(ctx, chat, reply); err != nil {
		l.logger.WarnContext(ctx, "command reply failed",
			slog.String("command", text),
			slog.String("error", err.Error()),
		)
	}
}
