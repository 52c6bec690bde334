package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

// fakeStore is an in-memory HistoryStore with a failure toggle.
type fakeStore struct {
	mu         sync.Mutex
	messages   []domain.Message
	presence   map[string]domain.Presence
	failAppend bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{presence: make(map[string]domain.Presence)}
}

func (f *fakeStore) Append(msg domain.Message) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAppend {
		return domain.Message{}, errors.New("storage unreachable")
	}
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeStore) History(room string, limit, offset int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var inRoom []domain.Message
	for _, m := range f.messages {
		if m.Room == room {
			inRoom = append(inRoom, m)
		}
	}
	end := len(inRoom) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return inRoom[start:end], nil
}

func (f *fakeStore) SetRead(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ID == id {
			f.messages[i].IsRead = true
			return nil
		}
	}
	return nil
}

func (f *fakeStore) UpsertPresence(p domain.Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.presence[p.UserID]
	if ok && p.Username == "" {
		p.Username = existing.Username
	}
	f.presence[p.UserID] = p
	return nil
}

func (f *fakeStore) ListPresence() ([]domain.Presence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Presence, 0, len(f.presence))
	for _, p := range f.presence {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) stored() []domain.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Message{}, f.messages...)
}

func (f *fakeStore) presenceOf(userID string) (domain.Presence, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.presence[userID]
	return p, ok
}

func decodeFrames(t *testing.T, s *fakeSender) []map[string]any {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.frames))
	for _, frame := range s.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(frame, &m))
		out = append(out, m)
	}
	return out
}

func eventsOfType(t *testing.T, s *fakeSender, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ev := range decodeFrames(t, s) {
		if ev["type"] == typ {
			out = append(out, ev)
		}
	}
	return out
}

func newTestRelay() (*Relay, *fakeStore) {
	st := newFakeStore()
	return New(NewRegistry(), st, nil), st
}

func join(r *Relay, connID ConnID, s Sender, userID string) {
	r.Registry.Register(connID, s)
	r.Join(connID, JoinRequest{UserID: userID, Username: "name-" + userID})
}

func Test_SendMessage_Persists_Then_Broadcasts(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()

	a, b := &fakeSender{}, &fakeSender{}
	join(r, "cA", a, "A")
	join(r, "cB", b, "B")
	r.JoinRoom("cA", "A", "AB")
	r.JoinRoom("cB", "B", "AB")

	issued := time.Now().UTC()
	r.SendMessage("cA", SendRequest{Sender: "A", Receiver: "B", Body: "hi", Room: "AB"})

	req.Len(st.stored(), 1)
	stored := st.stored()[0]
	req.Equal(domain.KindText, stored.Kind)
	req.False(stored.Timestamp.Before(issued))

	// Exactly one broadcast per successful persistence, sender included.
	for _, s := range []*fakeSender{a, b} {
		events := eventsOfType(t, s, EventNewMessage)
		req.Len(events, 1)
		req.Equal("hi", events[0]["message"])
		req.Equal("A", events[0]["sender"])
		req.Equal("B", events[0]["receiver"])
		req.Equal(stored.ID, events[0]["id"])
	}
}

func Test_Rapid_Sends_Carry_Own_Timestamps(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()

	a, b, obs := &fakeSender{}, &fakeSender{}, &fakeSender{}
	join(r, "cA", a, "A")
	join(r, "cB", b, "B")
	join(r, "cObs", obs, "O")
	r.JoinRoom("cA", "A", "AB")
	r.JoinRoom("cB", "B", "AB")
	r.JoinRoom("cObs", "O", "AB")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.SendMessage("cA", SendRequest{Sender: "A", Receiver: "B", Body: "from A", Room: "AB"})
	}()
	go func() {
		defer wg.Done()
		r.SendMessage("cB", SendRequest{Sender: "B", Receiver: "A", Body: "from B", Room: "AB"})
	}()
	wg.Wait()

	stored := st.stored()
	req.Len(stored, 2)
	byID := make(map[string]domain.Message, len(stored))
	for _, m := range stored {
		byID[m.ID] = m
	}

	// Relative order between the two sends is unspecified, but every
	// broadcast frame must carry exactly its own persisted id/timestamp
	// pair.
	events := eventsOfType(t, obs, EventNewMessage)
	req.Len(events, 2)
	seen := make(map[string]bool)
	for _, ev := range events {
		id, ok := ev["id"].(string)
		req.True(ok)
		m, found := byID[id]
		req.True(found)
		req.Equal(m.Body, ev["message"])
		req.Equal(m.Timestamp.Format(time.RFC3339Nano), ev["timestamp"])
		seen[id] = true
	}
	req.Len(seen, 2)
}

func Test_SendMessage_Storage_Failure_No_Broadcast(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()
	st.failAppend = true

	a, b := &fakeSender{}, &fakeSender{}
	join(r, "cA", a, "A")
	join(r, "cB", b, "B")
	r.JoinRoom("cA", "A", "AB")
	r.JoinRoom("cB", "B", "AB")

	r.SendMessage("cA", SendRequest{Sender: "A", Receiver: "B", Body: "hi", Room: "AB"})

	req.Empty(st.stored())
	req.Len(eventsOfType(t, a, EventMessageError), 1)
	req.Empty(eventsOfType(t, b, EventMessageError))
	req.Empty(eventsOfType(t, a, EventNewMessage))
	req.Empty(eventsOfType(t, b, EventNewMessage))
}

func Test_SendMessage_Unknown_Kind_Rejected(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()

	a := &fakeSender{}
	join(r, "cA", a, "A")
	r.JoinRoom("cA", "A", "AB")

	r.SendMessage("cA", SendRequest{Sender: "A", Receiver: "B", Body: "x", Room: "AB", Kind: "video"})

	req.Empty(st.stored())
	req.Len(eventsOfType(t, a, EventMessageError), 1)
}

func Test_Join_Without_UserID_Is_NoOp(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()

	a := &fakeSender{}
	r.Registry.Register("cA", a)
	r.Join("cA", JoinRequest{Username: "ghost"})

	req.Empty(st.presence)
	req.Empty(r.Registry.RoomsOf("cA"))
	req.Zero(a.count())
}

func Test_Join_Broadcasts_Online_And_Subscribes_Personal_Room(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()

	a, b := &fakeSender{}, &fakeSender{}
	join(r, "cA", a, "A")
	join(r, "cB", b, "B")

	// A hears about B; B does not hear about itself.
	online := eventsOfType(t, a, EventUserOnline)
	req.Len(online, 1)
	req.Equal("B", online[0]["userId"])
	req.Empty(eventsOfType(t, b, EventUserOnline))

	req.Contains(r.Registry.RoomsOf("cB"), domain.PersonalRoom("B"))

	p, ok := st.presenceOf("B")
	req.True(ok)
	req.True(p.Online)
}

func Test_MultiDevice_Presence(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()

	phone, laptop, observer := &fakeSender{}, &fakeSender{}, &fakeSender{}
	join(r, "phone", phone, "A")
	join(r, "laptop", laptop, "A")
	join(r, "obs", observer, "B")

	// First device drops: user A still has a live binding.
	r.Disconnect("phone")
	req.Empty(eventsOfType(t, observer, EventUserOffline))
	p, _ := st.presenceOf("A")
	req.True(p.Online)

	// Last device drops: now A is offline and peers hear it.
	r.Disconnect("laptop")
	offline := eventsOfType(t, observer, EventUserOffline)
	req.Len(offline, 1)
	req.Equal("A", offline[0]["userId"])
	p, _ = st.presenceOf("A")
	req.False(p.Online)
}

func Test_Typing_Excludes_Sender_Never_Persisted(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()

	a, b := &fakeSender{}, &fakeSender{}
	join(r, "cA", a, "A")
	join(r, "cB", b, "B")
	r.JoinRoom("cA", "A", "AB")
	r.JoinRoom("cB", "B", "AB")

	r.Typing("cA", "AB", "A", true)

	typing := eventsOfType(t, b, EventUserTyping)
	req.Len(typing, 1)
	req.Equal(true, typing[0]["isTyping"])
	req.Empty(eventsOfType(t, a, EventUserTyping))
	req.Empty(st.stored())
}

func Test_MarkAsRead_Notifies_Sender_Personal_Room(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()

	a, b := &fakeSender{}, &fakeSender{}
	join(r, "cA", a, "A")
	join(r, "cB", b, "B")

	stored, err := st.Append(domain.Message{Sender: "A", Receiver: "B", Body: "hi", Room: "AB", Kind: domain.KindText})
	req.NoError(err)

	r.MarkAsRead("cB", stored.ID, "B", "A")

	read := eventsOfType(t, a, EventMessageRead)
	req.Len(read, 1)
	req.Equal(stored.ID, read[0]["messageId"])
	req.Equal("B", read[0]["readBy"])
	req.True(st.stored()[0].IsRead)

	// Second call: same observable end state.
	r.MarkAsRead("cB", stored.ID, "B", "A")
	req.True(st.stored()[0].IsRead)
}

func Test_History_Delivered_To_Requester_Only(t *testing.T) {
	req := require.New(t)
	r, st := newTestRelay()

	a, b := &fakeSender{}, &fakeSender{}
	join(r, "cA", a, "A")
	join(r, "cB", b, "B")

	for _, body := range []string{"m1", "m2", "m3", "m4", "m5"} {
		_, err := st.Append(domain.Message{Sender: "A", Receiver: "B", Body: body, Room: "AB", Kind: domain.KindText})
		req.NoError(err)
	}

	r.History("cA", "AB", 2, 0)

	hist := eventsOfType(t, a, EventChatHistory)
	req.Len(hist, 1)
	messages := hist[0]["messages"].([]any)
	req.Len(messages, 2)
	req.Equal("m4", messages[0].(map[string]any)["message"])
	req.Equal("m5", messages[1].(map[string]any)["message"])
	req.Empty(eventsOfType(t, b, EventChatHistory))
}

type denyPolicy struct{}

func (denyPolicy) Allow(string, domain.RoomID) bool { return false }

func Test_JoinRoom_Policy_Hook(t *testing.T) {
	req := require.New(t)
	st := newFakeStore()
	r := New(NewRegistry(), st, denyPolicy{})

	a := &fakeSender{}
	join(r, "cA", a, "A")
	r.JoinRoom("cA", "A", "AB")

	req.Empty(r.Registry.ConnectionsIn("AB"))
}
