package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendN(t *testing.T, s *Store, room string, bodies ...string) []domain.Message {
	t.Helper()
	out := make([]domain.Message, 0, len(bodies))
	for _, body := range bodies {
		msg, err := s.Append(domain.Message{
			Sender:   "alice",
			Receiver: "bob",
			Body:     body,
			Room:     room,
			Kind:     domain.KindText,
		})
		require.NoError(t, err)
		out = append(out, msg)
		time.Sleep(time.Millisecond)
	}
	return out
}

func Test_Append_Assigns_ID_And_Timestamp(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	before := time.Now().UTC()
	msg, err := s.Append(domain.Message{Sender: "a", Receiver: "b", Body: "hi", Room: "ab", Kind: domain.KindText})
	req.NoError(err)
	req.NotEmpty(msg.ID)
	req.False(msg.Timestamp.Before(before))
	req.False(msg.IsRead)
}

func Test_History_Chronological(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	stored := appendN(t, s, "ab", "one", "two", "three")

	page, err := s.History("ab", 0, 0)
	req.NoError(err)
	req.Len(page, len(stored))
	for i, msg := range page {
		req.Equal(stored[i].Body, msg.Body)
		if i > 0 {
			req.False(msg.Timestamp.Before(page[i-1].Timestamp))
		}
	}
}

func Test_History_Pagination_Walks_Backward(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	appendN(t, s, "ab", "m1", "m2", "m3", "m4", "m5")

	// First page: the two most recent, still oldest-to-newest.
	page, err := s.History("ab", 2, 0)
	req.NoError(err)
	req.Len(page, 2)
	req.Equal("m4", page[0].Body)
	req.Equal("m5", page[1].Body)

	// Next offset steps further back in time.
	page, err = s.History("ab", 2, 2)
	req.NoError(err)
	req.Len(page, 2)
	req.Equal("m2", page[0].Body)
	req.Equal("m3", page[1].Body)

	page, err = s.History("ab", 2, 4)
	req.NoError(err)
	req.Len(page, 1)
	req.Equal("m1", page[0].Body)
}

func Test_History_Isolated_Per_Room(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	appendN(t, s, "ab", "for ab")
	appendN(t, s, "cd", "for cd")

	page, err := s.History("ab", 10, 0)
	req.NoError(err)
	req.Len(page, 1)
	req.Equal("for ab", page[0].Body)

	empty, err := s.History("nobody-here", 10, 0)
	req.NoError(err)
	req.Empty(empty)
}

func Test_History_Room_Separator_In_ID(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	// Room ids are opaque; a ":" in one must not leak into another room's
	// prefix scan.
	appendN(t, s, "a:0x", "for a:0x")
	appendN(t, s, "a", "for a")

	page, err := s.History("a", 10, 0)
	req.NoError(err)
	req.Len(page, 1)
	req.Equal("for a", page[0].Body)

	page, err = s.History("a:0x", 10, 0)
	req.NoError(err)
	req.Len(page, 1)
	req.Equal("for a:0x", page[0].Body)
}

func Test_SetRead_Idempotent(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	stored := appendN(t, s, "ab", "read me")[0]

	req.NoError(s.SetRead(stored.ID))
	got, err := s.Message(stored.ID)
	req.NoError(err)
	req.True(got.IsRead)

	// Second transition is a no-op with the same end state.
	req.NoError(s.SetRead(stored.ID))
	got, err = s.Message(stored.ID)
	req.NoError(err)
	req.True(got.IsRead)
}

func Test_SetRead_Unknown_ID_Is_Success(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)

	req.NoError(s.SetRead("does-not-exist"))
}
