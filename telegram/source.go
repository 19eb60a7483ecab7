package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"maps-harvester/scheduler"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// maxMessageLen is Telegram's limit for one text message
const maxMessageLen = 4096

const unauthorizedText = "Sorry, you are not authorized to use this bot."

// botAPI is the part of *tgbotapi.BotAPI the source uses
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// Source turns bot messages from allowed users into operator commands
type Source struct {
	bot     botAPI
	allowed map[int64]bool
	log     *logrus.Entry
}

// NewSource connects to the bot API with token
func NewSource(token string, allowedUsers []int64, log *logrus.Entry) (*Source, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram token is not set")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bot: %w", err)
	}
	log.WithField("account", bot.Self.UserName).Info("Telegram bot authorized")
	return newSource(bot, allowedUsers, log), nil
}

func newSource(bot botAPI, allowedUsers []int64, log *logrus.Entry) *Source {
	allowed := make(map[int64]bool, len(allowedUsers))
	for _, id := range allowedUsers {
		allowed[id] = true
	}
	return &Source{bot: bot, allowed: allowed, log: log}
}

// Run forwards commands until ctx is done or the update stream closes
func (s *Source) Run(ctx context.Context, commands chan<- scheduler.Command) error {
	// start from the latest update to skip ones sent while offline
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updateConfig.Offset = -1

	updates := s.bot.GetUpdatesChan(updateConfig)
	defer s.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			cmd, ok := s.command(update)
			if !ok {
				continue
			}
			select {
			case commands <- cmd:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// command converts one update; unauthorized senders get a refusal instead
func (s *Source) command(update tgbotapi.Update) (scheduler.Command, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return scheduler.Command{}, false
	}

	chatID := msg.Chat.ID
	if !s.allowed[msg.From.ID] {
		s.log.WithField("user_id", msg.From.ID).Warn("Unauthorized user attempted to use bot")
		s.send(chatID, unauthorizedText)
		return scheduler.Command{}, false
	}

	token := strings.TrimSpace(msg.Text)
	if msg.IsCommand() {
		token = msg.Command()
	}
	if token == "start" {
		token = "help"
	}
	if token == "" {
		return scheduler.Command{}, false
	}

	reply := func(text string) {
		for _, part := range splitMessage(strings.TrimRight(text, "\n"), maxMessageLen-len("<pre></pre>")) {
			s.sendPre(chatID, part)
		}
	}
	return scheduler.NewCommand(token, reply), true
}

func (s *Source) send(chatID int64, text string) {
	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		s.log.WithError(err).Warn("Failed to send Telegram message")
	}
}

// sendPre sends already escaped text as preformatted so tables keep their alignment
func (s *Source) sendPre(chatID int64, escaped string) {
	msg := tgbotapi.NewMessage(chatID, "<pre>"+escaped+"</pre>")
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.bot.Send(msg); err != nil {
		s.log.WithError(err).Warn("Failed to send Telegram message")
	}
}

// splitMessage escapes text for HTML and cuts it into parts of at most maxLen
// characters as sent, on line breaks when possible. A long line is cut between
// runes and never inside an entity.
func splitMessage(text string, maxLen int) []string {
	var (
		parts   []string
		current strings.Builder
		size    int
		open    bool
	)
	flush := func() {
		if open {
			parts = append(parts, current.String())
			current.Reset()
			size, open = 0, false
		}
	}

	for _, line := range strings.Split(text, "\n") {
		escaped := html.EscapeString(line)
		n := utf8.RuneCountInString(escaped)
		if open && size+1+n <= maxLen {
			current.WriteByte('\n')
			current.WriteString(escaped)
			size += 1 + n
			continue
		}
		flush()
		open = true
		if n <= maxLen {
			current.WriteString(escaped)
			size = n
			continue
		}
		for _, r := range line {
			atom := html.EscapeString(string(r))
			an := utf8.RuneCountInString(atom)
			if size+an > maxLen {
				flush()
				open = true
			}
			current.WriteString(atom)
			size += an
		}
	}
	flush()
	return parts
}
