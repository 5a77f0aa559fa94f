package mtproto

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
	"remont-lead-bot/internal/infra/metrics"
	"remont-lead-bot/internal/infra/ratelimit"
	"remont-lead-bot/internal/infra/retry"
)

const component = "mtproto"

// api методы MTProto, которые нужны охотнику.
type api interface {
	ContactsResolveUsername(ctx context.Context, request *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error)
	MessagesCheckChatInvite(ctx context.Context, hash string) (tg.ChatInviteClass, error)
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
}

// Config параметры пользовательского клиента.
type Config struct {
	APIID        int
	APIHash      string
	RPS          float64
	ResolveFloor time.Duration
}

// Userspace адаптер пользовательского аккаунта: чтение истории чатов и резолв ссылок.
// Резолв дополнительно ограничен полом: не больше одного вызова за ResolveFloor.
type Userspace struct {
	cfg     Config
	storage *SessionStore
	bucket  ratelimit.Limiter
	floor   ratelimit.Limiter
	retry   retry.Policy
	log     zerolog.Logger

	mu    sync.Mutex
	api   api
	ready chan struct{}
}

var _ domain.SourceReader = (*Userspace)(nil)

// NewUserspace создаёт адаптер. Соединение устанавливает Run.
func NewUserspace(cfg Config, storage *SessionStore, log zerolog.Logger) *Userspace {
	return &Userspace{
		cfg:     cfg,
		storage: storage,
		bucket:  ratelimit.NewBucket(cfg.RPS, 1),
		floor:   ratelimit.NewFloor(cfg.ResolveFloor),
		retry:   retry.Default(),
		log:     log,
		ready:   make(chan struct{}),
	}
}

// Run держит MTProto соединение до отмены контекста.
func (u *Userspace) Run(ctx context.Context) error {
	client := telegram.NewClient(u.cfg.APIID, u.cfg.APIHash, telegram.Options{SessionStorage: u.storage})
	err := client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("mtproto: проверка авторизации: %w", err)
		}
		if !status.Authorized {
			return domain.Permanent("mtproto: auth", errors.New("сессия не авторизована, импортируйте её через mtproto-session-importer"))
		}
		u.setAPI(client.API())
		defer u.setAPI(nil)
		u.log.Info().Msg("mtproto: клиент подключён")
		<-ctx.Done()
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (u *Userspace) setAPI(a api) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if a == nil {
		u.api = nil
		u.ready = make(chan struct{})
		return
	}
	u.api = a
	close(u.ready)
}

func (u *Userspace) client(ctx context.Context) (api, error) {
	u.mu.Lock()
	a, ready := u.api, u.ready
	u.mu.Unlock()
	if a != nil {
		return a, nil
	}
	select {
	case <-ready:
		return u.client(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FetchMessages возвращает сообщения источника с ID больше afterID в порядке возрастания.
func (u *Userspace) FetchMessages(ctx context.Context, target domain.TargetResource, afterID int64, limit int) ([]domain.SourceMessage, error) {
	if target.PeerID == 0 {
		return nil, domain.Permanent("mtproto: history", fmt.Errorf("источник %s не разрезолвлен", target.Link))
	}
	if limit <= 0 {
		limit = 100
	}
	req := &tg.MessagesGetHistoryRequest{Peer: inputPeer(target), Limit: limit}
	if afterID > 0 {
		req.OffsetID = int(afterID)
		req.AddOffset = -limit
		req.MinID = int(afterID)
	}
	var result tg.MessagesMessagesClass
	err := u.retry.Do(ctx, func(ctx context.Context) error {
		a, err := u.client(ctx)
		if err != nil {
			return err
		}
		if err := u.bucket.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		result, err = a.MessagesGetHistory(ctx, req)
		metrics.ObserveNetworkRequest(component, "messages.getHistory", target.Link, start, err)
		if err != nil {
			return classify("mtproto: history", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convertHistory(target, afterID, result), nil
}

// Resolve превращает ссылку на чат в координаты пира. Ошибки приходят как *domain.ResolveError.
func (u *Userspace) Resolve(ctx context.Context, link string) (domain.ResolvedSource, error) {
	username, invite, err := ParseLink(link)
	if err != nil {
		return domain.ResolvedSource{}, &domain.ResolveError{Kind: domain.ResolveNotFound, Link: link, Err: err}
	}
	a, err := u.client(ctx)
	if err != nil {
		return domain.ResolvedSource{}, err
	}
	if err := (ratelimit.Chain{u.floor, u.bucket}).Wait(ctx); err != nil {
		return domain.ResolvedSource{}, err
	}
	start := time.Now()
	if invite != "" {
		res, err := a.MessagesCheckChatInvite(ctx, invite)
		metrics.ObserveNetworkRequest(component, "messages.checkChatInvite", link, start, err)
		if err != nil {
			return domain.ResolvedSource{}, resolveError(link, err)
		}
		return fromInvite(link, res)
	}
	res, err := a.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	metrics.ObserveNetworkRequest(component, "contacts.resolveUsername", link, start, err)
	if err != nil {
		return domain.ResolvedSource{}, resolveError(link, err)
	}
	for _, chat := range res.Chats {
		if src, ok := fromChat(link, chat); ok {
			return src, nil
		}
	}
	return domain.ResolvedSource{}, &domain.ResolveError{Kind: domain.ResolveNotFound, Link: link, Err: errors.New("имя принадлежит пользователю, а не чату")}
}

// ParseLink разбирает t.me ссылку или @имя на публичное имя либо хэш приглашения.
func ParseLink(link string) (username, invite string, err error) {
	raw := strings.TrimSpace(link)
	if strings.HasPrefix(raw, "@") {
		return validUsername(strings.TrimPrefix(raw, "@"))
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "t.me" && host != "telegram.me" {
		return "", "", fmt.Errorf("не ссылка telegram: %s", link)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) == 0 || parts[0] == "":
		return "", "", fmt.Errorf("пустая ссылка: %s", link)
	case strings.HasPrefix(parts[0], "+"):
		return "", strings.TrimPrefix(parts[0], "+"), nil
	case parts[0] == "joinchat" && len(parts) > 1:
		return "", parts[1], nil
	}
	return validUsername(parts[0])
}

func validUsername(name string) (string, string, error) {
	if len(name) < 4 || len(name) > 32 {
		return "", "", fmt.Errorf("некорректное имя %q", name)
	}
	for _, r := range name {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return "", "", fmt.Errorf("некорректное имя %q", name)
		}
	}
	return name, "", nil
}

func inputPeer(t domain.TargetResource) tg.InputPeerClass {
	if t.AccessHash != 0 {
		return &tg.InputPeerChannel{ChannelID: t.PeerID, AccessHash: t.AccessHash}
	}
	return &tg.InputPeerChat{ChatID: t.PeerID}
}

func messageURL(t domain.TargetResource, id int) string {
	if t.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", t.Username, id)
	}
	return fmt.Sprintf("https://t.me/c/%d/%d", t.PeerID, id)
}

func convertHistory(target domain.TargetResource, afterID int64, result tg.MessagesMessagesClass) []domain.SourceMessage {
	var raw []tg.MessageClass
	switch r := result.(type) {
	case *tg.MessagesMessages:
		raw = r.Messages
	case *tg.MessagesMessagesSlice:
		raw = r.Messages
	case *tg.MessagesChannelMessages:
		raw = r.Messages
	}
	out := make([]domain.SourceMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		msg, ok := raw[i].(*tg.Message)
		if !ok || int64(msg.ID) <= afterID {
			continue
		}
		sm := domain.SourceMessage{
			ID:       int64(msg.ID),
			TargetID: target.ID,
			URL:      messageURL(target, msg.ID),
			Text:     msg.Message,
			Date:     time.Unix(int64(msg.Date), 0).UTC(),
		}
		if from, ok := msg.GetFromID(); ok {
			if peer, ok := from.(*tg.PeerUser); ok {
				sm.FromID = peer.UserID
			}
		}
		out = append(out, sm)
	}
	return out
}

func fromChat(link string, chat tg.ChatClass) (domain.ResolvedSource, bool) {
	switch c := chat.(type) {
	case *tg.Channel:
		src := domain.ResolvedSource{
			Link:       link,
			Title:      c.Title,
			Username:   c.Username,
			PeerID:     c.ID,
			AccessHash: c.AccessHash,
			Broadcast:  c.Broadcast,
		}
		if n, ok := c.GetParticipantsCount(); ok {
			src.Participants = &n
		}
		return src, true
	case *tg.Chat:
		n := c.ParticipantsCount
		return domain.ResolvedSource{Link: link, Title: c.Title, PeerID: c.ID, Participants: &n}, true
	}
	return domain.ResolvedSource{}, false
}

func fromInvite(link string, res tg.ChatInviteClass) (domain.ResolvedSource, error) {
	switch inv := res.(type) {
	case *tg.ChatInviteAlready:
		if src, ok := fromChat(link, inv.Chat); ok {
			return src, nil
		}
	case *tg.ChatInvite:
		return domain.ResolvedSource{}, &domain.ResolveError{Kind: domain.ResolveInviteRequired, Link: link, Err: fmt.Errorf("нужно вступить в %q", inv.Title)}
	case *tg.ChatInvitePeek:
		return domain.ResolvedSource{}, &domain.ResolveError{Kind: domain.ResolveInviteRequired, Link: link, Err: errors.New("доступен только предпросмотр")}
	}
	return domain.ResolvedSource{}, &domain.ResolveError{Kind: domain.ResolveNotFound, Link: link, Err: fmt.Errorf("неожиданный ответ %T", res)}
}

// resolveError классифицирует отказ резолва для подсказки операторам.
func resolveError(link string, err error) error {
	switch {
	case tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID", "INVITE_HASH_INVALID", "INVITE_HASH_EXPIRED"):
		return &domain.ResolveError{Kind: domain.ResolveNotFound, Link: link, Err: err}
	case tgerr.Is(err, "CHANNEL_PRIVATE", "INVITE_REQUEST_SENT"):
		return &domain.ResolveError{Kind: domain.ResolveInviteRequired, Link: link, Err: err}
	}
	return &domain.ResolveError{Kind: domain.ResolveTransport, Link: link, Err: classify("mtproto: resolve", err)}
}

func classify(op string, err error) error {
	if d, ok := tgerr.AsFloodWait(err); ok {
		return domain.FloodWait(op, d, err)
	}
	if rpcErr, ok := tgerr.As(err); ok && rpcErr.Code < 500 {
		return domain.Permanent(op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.Transient(op, err)
}
