// Package chat is the librarian side of the per-user message threads. A
// thread is the messages array on the user's BiblioUser record.
package chat

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bibliopanel/internal/circulation"
	"bibliopanel/internal/docstore"
	"bibliopanel/internal/listing"
	"bibliopanel/internal/logger"

	"github.com/google/uuid"
)

// OutboxCollection mirrors every librarian message for the student app's
// notification feed.
const OutboxCollection = "MessagesRecue"

// Direction markers as stored in the recue field, seen from the user.
const (
	FromUser  = "E"
	FromAdmin = "R"
)

var (
	ErrUserNotFound = errors.New("chat user not found")
	ErrEmptyMessage = errors.New("message text is empty")
)

type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

type Conversation struct {
	ID                   string     `json:"id"`
	UserName             string     `json:"userName"`
	UserImage            string     `json:"userImage,omitempty"`
	LastMessageText      string     `json:"lastMessageText"`
	LastMessageTimestamp time.Time  `json:"lastMessageTimestamp"`
	UnreadByAdmin        bool       `json:"unreadByAdmin"`
	AdminLastRead        *time.Time `json:"adminLastReadTimestamp,omitempty"`
}

type storedMessage struct {
	text string
	at   time.Time
	dir  string
	read bool
}

func storedMessages(data map[string]any) []storedMessage {
	var out []storedMessage
	for _, raw := range docstore.Slice(data, "messages") {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, storedMessage{
			text: docstore.String(m, "texte"),
			at:   docstore.Time(m, "heure"),
			dir:  docstore.String(m, "recue"),
			read: docstore.Bool(m, "lu"),
		})
	}
	return out
}

func (m storedMessage) unread() bool { return m.dir == FromUser && !m.read }

func conversationOf(snap *docstore.Snapshot) (Conversation, bool) {
	msgs := storedMessages(snap.Data)
	if len(msgs) == 0 {
		return Conversation{}, false
	}
	last := msgs[len(msgs)-1]
	c := Conversation{
		ID:                   snap.ID,
		UserName:             docstore.String(snap.Data, "name"),
		UserImage:            docstore.String(snap.Data, "image"),
		LastMessageText:      last.text,
		LastMessageTimestamp: last.at,
	}
	for _, m := range msgs {
		if m.unread() {
			c.UnreadByAdmin = true
			break
		}
	}
	if t := docstore.Time(snap.Data, "adminLastReadTimestamp"); !t.IsZero() {
		c.AdminLastRead = &t
	}
	return c, true
}

func conversations(snaps []*docstore.Snapshot) []Conversation {
	out := []Conversation{}
	for _, snap := range snaps {
		if c, ok := conversationOf(snap); ok {
			out = append(out, c)
		}
	}
	return listing.SortBy(out, func(a, b Conversation) int {
		return cmp.Or(b.LastMessageTimestamp.Compare(a.LastMessageTimestamp), cmp.Compare(a.ID, b.ID))
	})
}

func unreadCount(convs []Conversation) int {
	n := 0
	for _, c := range convs {
		if c.UnreadByAdmin {
			n++
		}
	}
	return n
}

type Service struct {
	store docstore.Store
	now   func() time.Time
}

func NewService(store docstore.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Conversations lists threads with at least one message, most recent first.
func (s *Service) Conversations(ctx context.Context) ([]Conversation, error) {
	snaps, err := s.store.All(ctx, circulation.UserCollection)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations(snaps), nil
}

// Messages returns one user's thread in stored order.
func (s *Service) Messages(ctx context.Context, email string) ([]Message, error) {
	snap, err := s.store.Get(ctx, circulation.UserCollection, email)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	stored := storedMessages(snap.Data)
	out := make([]Message, 0, len(stored))
	for i, m := range stored {
		sender := "admin"
		if m.dir == FromUser {
			sender = email
		}
		out = append(out, Message{
			ID:        fmt.Sprintf("%s-%d-%d", email, i, m.at.UnixMilli()),
			Text:      m.text,
			SenderID:  sender,
			Timestamp: m.at,
			Read:      m.read,
		})
	}
	return out, nil
}

// Send appends a librarian message to the thread and mirrors it to the
// outbox in the same transaction.
func (s *Service) Send(ctx context.Context, email, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	at := s.now().UTC().Truncate(time.Millisecond)
	stamp := at.Format(time.RFC3339Nano)

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, circulation.UserCollection, email); err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUserNotFound, email)
			}
			return err
		}
		if err := tx.ArrayUnion(circulation.UserCollection, email, "messages", map[string]any{
			"texte": text,
			"heure": stamp,
			"recue": FromAdmin,
		}); err != nil {
			return err
		}
		return tx.Set(OutboxCollection, uuid.NewString(), map[string]any{
			"email":    email,
			"messages": text,
			"lue":      false,
			"heure":    stamp,
		})
	})
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "message sent", "email", email)
	return &Message{Text: text, SenderID: "admin", Timestamp: at, Read: false}, nil
}

// MarkRead flags every message from the user as read and records when the
// librarian last opened the thread.
func (s *Service) MarkRead(ctx context.Context, email string) error {
	now := s.now().UTC().Truncate(time.Millisecond).Format(time.RFC3339Nano)
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ctx, circulation.UserCollection, email)
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, email)
		}
		if err != nil {
			return err
		}
		updates := map[string]any{"adminLastReadTimestamp": now}

		raw := docstore.Slice(snap.Data, "messages")
		changed := false
		msgs := make([]any, 0, len(raw))
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if ok && docstore.String(m, "recue") == FromUser && !docstore.Bool(m, "lu") {
				m = docstore.CloneMap(m)
				m["lu"] = true
				changed = true
				item = m
			}
			msgs = append(msgs, item)
		}
		if changed {
			updates["messages"] = msgs
		}
		return tx.Set(circulation.UserCollection, email, updates)
	})
}

// UnreadCount is the number of threads holding unread user messages.
func (s *Service) UnreadCount(ctx context.Context) (int, error) {
	convs, err := s.Conversations(ctx)
	if err != nil {
		return 0, err
	}
	return unreadCount(convs), nil
}

// Watch calls fn with the conversation list now and after every change to
// the users collection, until the returned stop function is called.
func (s *Service) Watch(ctx context.Context, fn func([]Conversation)) (func(), error) {
	return s.store.Subscribe(ctx, circulation.UserCollection, func(snaps []*docstore.Snapshot) {
		fn(conversations(snaps))
	})
}
