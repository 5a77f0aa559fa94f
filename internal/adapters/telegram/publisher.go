package telegram

import (
	"context"
	"fmt"

	"remont-lead-bot/internal/domain"
)

// Channel публикует посты контент-плана в канал Telegram.
type Channel struct {
	bot    *Bot
	chatID int64
	tag    domain.ChannelTag
}

var _ domain.Publisher = (*Channel)(nil)

// NewChannel создаёт публикатора для канала chatID. Повторы выполняет планировщик, поэтому адаптер делает одну попытку.
func NewChannel(bot *Bot, tag domain.ChannelTag, chatID int64) *Channel {
	single := *bot
	single.retry.MaxAttempts = 1
	return &Channel{bot: &single, chatID: chatID, tag: tag}
}

// Publish отправляет пост.
func (c *Channel) Publish(ctx context.Context, post domain.ScheduledPost) (domain.MessageRef, error) {
	if c.chatID == 0 {
		return domain.MessageRef{}, domain.Permanent("telegram: publish", fmt.Errorf("канал %s не настроен", c.tag))
	}
	msg := domain.OutboundMessage{ChatID: c.chatID, Text: post.Text, HTML: true, Media: post.Media}
	if post.Media.Empty() {
		return c.bot.SendText(ctx, msg)
	}
	return c.bot.SendMedia(ctx, msg)
}
