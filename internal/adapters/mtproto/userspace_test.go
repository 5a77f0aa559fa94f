package mtproto

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"

	"remont-lead-bot/internal/domain"
)

type fakeAPI struct {
	mu       sync.Mutex
	resolved []time.Time
	resolve  func(username string) (*tg.ContactsResolvedPeer, error)
	invite   func(hash string) (tg.ChatInviteClass, error)
	history  tg.MessagesMessagesClass
	lastReq  *tg.MessagesGetHistoryRequest
}

func (f *fakeAPI) ContactsResolveUsername(_ context.Context, req *tg.ContactsResolveUsernameRequest) (*tg.ContactsResolvedPeer, error) {
	f.mu.Lock()
	f.resolved = append(f.resolved, time.Now())
	f.mu.Unlock()
	return f.resolve(req.Username)
}

func (f *fakeAPI) MessagesCheckChatInvite(_ context.Context, hash string) (tg.ChatInviteClass, error) {
	f.mu.Lock()
	f.resolved = append(f.resolved, time.Now())
	f.mu.Unlock()
	return f.invite(hash)
}

func (f *fakeAPI) MessagesGetHistory(_ context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	f.lastReq = req
	return f.history, nil
}

func connected(api api, floor time.Duration) *Userspace {
	u := NewUserspace(Config{ResolveFloor: floor}, nil, zerolog.Nop())
	u.setAPI(api)
	return u
}

func TestParseLink(t *testing.T) {
	cases := []struct {
		link     string
		username string
		invite   string
		wantErr  bool
	}{
		{"https://t.me/jk_severny", "jk_severny", "", false},
		{"t.me/jk_severny/123", "jk_severny", "", false},
		{"@remont_chat", "remont_chat", "", false},
		{"https://t.me/+AbCdEf123", "", "AbCdEf123", false},
		{"https://t.me/joinchat/AbCdEf123", "", "AbCdEf123", false},
		{"https://example.com/chat", "", "", true},
		{"https://t.me/", "", "", true},
		{"@ab", "", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.link, func(t *testing.T) {
			username, invite, err := ParseLink(tc.link)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if username != tc.username || invite != tc.invite {
				t.Fatalf("got %q %q", username, invite)
			}
		})
	}
}

func TestResolveClassifiesErrors(t *testing.T) {
	cases := []struct {
		name string
		link string
		err  error
		kind domain.ResolveKind
	}{
		{"not occupied", "https://t.me/unknown_chat", tgerr.New(400, "USERNAME_NOT_OCCUPIED"), domain.ResolveNotFound},
		{"private", "https://t.me/closed_chat", tgerr.New(400, "CHANNEL_PRIVATE"), domain.ResolveInviteRequired},
		{"expired invite", "https://t.me/+deadbeef", tgerr.New(400, "INVITE_HASH_EXPIRED"), domain.ResolveNotFound},
		{"network", "https://t.me/some_chat", errors.New("connection reset"), domain.ResolveTransport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{
				resolve: func(string) (*tg.ContactsResolvedPeer, error) { return nil, tc.err },
				invite:  func(string) (tg.ChatInviteClass, error) { return nil, tc.err },
			}
			_, err := connected(api, 0).Resolve(context.Background(), tc.link)
			var re *domain.ResolveError
			if !errors.As(err, &re) {
				t.Fatalf("err = %v", err)
			}
			if re.Kind != tc.kind {
				t.Fatalf("kind = %s", re.Kind)
			}
			if re.Advisory() == "" {
				t.Fatal("empty advisory")
			}
		})
	}
}

func TestResolveInviteRequiresMembership(t *testing.T) {
	api := &fakeAPI{invite: func(string) (tg.ChatInviteClass, error) {
		return &tg.ChatInvite{Title: "ЖК Северный"}, nil
	}}
	_, err := connected(api, 0).Resolve(context.Background(), "https://t.me/+hash123")
	var re *domain.ResolveError
	if !errors.As(err, &re) || re.Kind != domain.ResolveInviteRequired {
		t.Fatalf("err = %v", err)
	}
}

func TestResolveChannel(t *testing.T) {
	channel := &tg.Channel{ID: 555, AccessHash: 777, Title: "ЖК Северный", Username: "jk_severny", Megagroup: true}
	channel.SetParticipantsCount(1200)
	api := &fakeAPI{resolve: func(string) (*tg.ContactsResolvedPeer, error) {
		return &tg.ContactsResolvedPeer{Chats: []tg.ChatClass{channel}}, nil
	}}
	src, err := connected(api, 0).Resolve(context.Background(), "https://t.me/jk_severny")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if src.PeerID != 555 || src.AccessHash != 777 || src.Participants == nil || *src.Participants != 1200 {
		t.Fatalf("src = %+v", src)
	}
}

func TestResolveFloorSpacesCalls(t *testing.T) {
	api := &fakeAPI{resolve: func(string) (*tg.ContactsResolvedPeer, error) {
		return &tg.ContactsResolvedPeer{Chats: []tg.ChatClass{&tg.Chat{ID: 1, Title: "x"}}}, nil
	}}
	floor := 40 * time.Millisecond
	u := connected(api, floor)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := u.Resolve(context.Background(), "https://t.me/some_chat"); err != nil {
				t.Errorf("resolve: %v", err)
			}
		}()
	}
	wg.Wait()
	if len(api.resolved) != 3 {
		t.Fatalf("calls = %d", len(api.resolved))
	}
	for i := 1; i < len(api.resolved); i++ {
		// rate.Limiter допускает небольшую погрешность таймера.
		if gap := api.resolved[i].Sub(api.resolved[i-1]); gap < floor-5*time.Millisecond {
			t.Fatalf("gap %d = %s", i, gap)
		}
	}
}

func TestFetchMessagesAfterID(t *testing.T) {
	api := &fakeAPI{history: &tg.MessagesChannelMessages{Messages: []tg.MessageClass{
		&tg.Message{ID: 12, Message: "new", Date: 1700000100},
		&tg.Message{ID: 11, Message: "older", Date: 1700000000},
		&tg.MessageService{ID: 10},
		&tg.Message{ID: 9, Message: "seen"},
	}}}
	target := domain.TargetResource{ID: 3, Link: "https://t.me/jk_severny", PeerID: 555, AccessHash: 777, Username: "jk_severny"}
	msgs, err := connected(api, 0).FetchMessages(context.Background(), target, 9, 50)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 11 || msgs[1].ID != 12 {
		t.Fatalf("msgs = %+v", msgs)
	}
	if msgs[1].URL != "https://t.me/jk_severny/12" || msgs[1].TargetID != 3 {
		t.Fatalf("msg = %+v", msgs[1])
	}
	if api.lastReq.MinID != 9 || api.lastReq.AddOffset != -50 {
		t.Fatalf("request = %+v", api.lastReq)
	}
	if _, ok := api.lastReq.Peer.(*tg.InputPeerChannel); !ok {
		t.Fatalf("peer = %T", api.lastReq.Peer)
	}
}

func TestFetchMessagesRequiresResolvedTarget(t *testing.T) {
	_, err := connected(&fakeAPI{}, 0).FetchMessages(context.Background(), domain.TargetResource{Link: "x"}, 0, 10)
	if !domain.IsPermanent(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestClassifyFloodWait(t *testing.T) {
	err := classify("op", tgerr.New(420, "FLOOD_WAIT_7"))
	if !domain.IsTransient(err) || domain.RetryAfter(err) != 7*time.Second {
		t.Fatalf("err = %v, wait = %s", err, domain.RetryAfter(err))
	}
}

func TestNormalizeSessionBytes(t *testing.T) {
	gotd := []byte(`{"Version":1,"Data":{"DC":2}}`)
	out, converted, err := NormalizeSessionBytes(gotd)
	if err != nil || converted || string(out) != string(gotd) {
		t.Fatalf("gotd passthrough: %s %v %v", out, converted, err)
	}

	rows, _ := json.Marshal([]map[string]any{{
		"dc_id": 2, "server_address": "149.154.167.51", "port": 443,
		"auth_key": hex.EncodeToString([]byte(strings.Repeat("k", 256))),
	}})
	out, converted, err = NormalizeSessionBytes(rows)
	if err != nil || !converted {
		t.Fatalf("rows: %v %v", converted, err)
	}
	var env gotdEnvelope
	if err := json.Unmarshal(out, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Version != 1 || env.Data.DC != 2 || env.Data.Addr != "149.154.167.51:443" || len(env.Data.AuthKeyID) != 8 {
		t.Fatalf("env = %+v", env.Data)
	}

	if _, _, err := NormalizeSessionBytes([]byte("garbage")); !errors.Is(err, ErrUnsupportedSessionFormat) {
		t.Fatalf("garbage err = %v", err)
	}
}
