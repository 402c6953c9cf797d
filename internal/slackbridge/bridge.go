package slackbridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/haasonsaas/switchboard/internal/backend"
	"github.com/haasonsaas/switchboard/internal/observability"
	"github.com/haasonsaas/switchboard/pkg/models"
)

// APIClient is the subset of the Slack Web API the bridge uses. The
// concrete *slack.Client satisfies it; tests inject a fake.
type APIClient interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

var _ APIClient = (*slack.Client)(nil)

// Config holds bridge configuration.
type Config struct {
	BotToken   string // xoxb- token for Web API calls
	AppToken   string // xapp- token for Socket Mode
	WorkingDir string // working directory for sessions the bridge creates
	Backend    backend.Backend
	Mapping    *Mapping
	Logger     *observability.Logger
}

// Bridge routes Slack messages into backend sessions and posts replies
// back into the originating thread.
type Bridge struct {
	cfg    Config
	api    APIClient
	socket *socketmode.Client

	backend backend.Backend
	mapping *Mapping
	logger  *observability.Logger

	botMu     sync.RWMutex
	botUserID string
}

// New builds a bridge over the real Slack clients.
func New(cfg Config) *Bridge {
	client := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Bridge{
		cfg:     cfg,
		api:     client,
		socket:  socketmode.New(client),
		backend: cfg.Backend,
		mapping: cfg.Mapping,
		logger:  cfg.Logger,
	}
}

// Configured reports whether both Slack tokens are present.
func (c Config) Configured() bool {
	return c.BotToken != "" && c.AppToken != ""
}

// Run authenticates, opens the Socket Mode connection, and processes
// events until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	auth, err := b.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	b.botMu.Lock()
	b.botUserID = auth.UserID
	b.botMu.Unlock()
	b.logger.Info(ctx, "slack bridge connected", "bot_user_id", auth.UserID)

	go func() {
		if err := b.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			b.logger.Error(ctx, "slack socket mode stopped", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-b.socket.Events:
			if !ok {
				return nil
			}
			b.handleSocketEvent(ctx, event)
		}
	}
}

func (b *Bridge) handleSocketEvent(ctx context.Context, event socketmode.Event) {
	switch event.Type {
	case socketmode.EventTypeConnectionError:
		b.logger.Warn(ctx, "slack connection error", "data", fmt.Sprint(event.Data))
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
		if !ok {
			b.logger.Warn(ctx, "unexpected socket mode payload", "type", string(event.Type))
			if event.Request != nil {
				b.socket.Ack(*event.Request)
			}
			return
		}
		if event.Request != nil {
			b.socket.Ack(*event.Request)
		}
		b.handleEventsAPI(ctx, apiEvent)
	case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
		if event.Request != nil {
			b.socket.Ack(*event.Request)
		}
	}
}

func (b *Bridge) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		b.handleMessage(ctx, inboundMessage{
			Channel:  ev.Channel,
			ThreadTS: ev.ThreadTimeStamp,
			TS:       ev.TimeStamp,
			User:     ev.User,
			Text:     ev.Text,
		})
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" {
			return
		}
		b.handleMessage(ctx, inboundMessage{
			Channel:  ev.Channel,
			ThreadTS: ev.ThreadTimeStamp,
			TS:       ev.TimeStamp,
			User:     ev.User,
			Text:     ev.Text,
		})
	}
}

type inboundMessage struct {
	Channel  string
	ThreadTS string
	TS       string
	User     string
	Text     string
}

// handleMessage routes one inbound message. Only DMs, mentions, and
// replies inside already-bound threads reach the backend.
func (b *Bridge) handleMessage(ctx context.Context, msg inboundMessage) {
	b.botMu.RLock()
	botUserID := b.botUserID
	b.botMu.RUnlock()

	isDM := strings.HasPrefix(msg.Channel, "D")
	isMention := botUserID != "" && strings.Contains(msg.Text, "<@"+botUserID+">")
	_, bound := b.mapping.Resolve(msg.Channel, msg.ThreadTS)
	if !isDM && !isMention && !bound {
		return
	}

	text := strings.TrimSpace(stripMentions(msg.Text))
	if text == "" {
		return
	}

	sessionID, err := b.ensureSession(ctx, msg)
	if err != nil {
		b.logger.Error(ctx, "slack session setup failed", "channel", msg.Channel, "error", err)
		return
	}

	reply, err := b.backend.SendMessage(ctx, sessionID, text)
	if err != nil {
		b.logger.Error(ctx, "slack message failed", "session_id", sessionID, "error", err)
		reply = "Something went wrong handling that message."
	}
	b.postReply(ctx, msg, reply)
}

// ensureSession resolves the conversation's session, creating and binding
// one on first contact.
func (b *Bridge) ensureSession(ctx context.Context, msg inboundMessage) (string, error) {
	if id, ok := b.mapping.Resolve(msg.Channel, msg.ThreadTS); ok {
		return id, nil
	}
	info, err := b.backend.CreateSession(ctx, backend.CreateSessionOptions{
		WorkingDir:  b.cfg.WorkingDir,
		Description: "slack conversation in " + msg.Channel,
		CreatedBy:   models.AppSlack,
	})
	if err != nil {
		return "", err
	}
	if err := b.mapping.Bind(msg.Channel, msg.ThreadTS, info.SessionID); err != nil {
		b.logger.Warn(ctx, "slack mapping not persisted", "session_id", info.SessionID, "error", err)
	}
	// Replies to a top-level trigger arrive threaded under its timestamp.
	if msg.ThreadTS == "" && msg.TS != "" {
		if err := b.mapping.Bind(msg.Channel, msg.TS, info.SessionID); err != nil {
			b.logger.Warn(ctx, "slack thread mapping not persisted", "session_id", info.SessionID, "error", err)
		}
	}
	return info.SessionID, nil
}

func (b *Bridge) postReply(ctx context.Context, msg inboundMessage, text string) {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	// Reply in-thread: reuse the thread, or start one off the trigger message.
	threadTS := msg.ThreadTS
	if threadTS == "" {
		threadTS = msg.TS
	}
	if threadTS != "" {
		options = append(options, slack.MsgOptionTS(threadTS))
	}
	if _, _, err := b.api.PostMessageContext(ctx, msg.Channel, options...); err != nil {
		b.logger.Error(ctx, "slack reply failed", "channel", msg.Channel, "error", err)
	}
}

// stripMentions removes <@USERID> tokens from message text.
func stripMentions(text string) string {
	for {
		start := strings.Index(text, "<@")
		if start == -1 {
			return text
		}
		end := strings.Index(text[start:], ">")
		if end == -1 {
			return text
		}
		text = text[:start] + text[start+end+1:]
	}
}
