package integrations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrello(t *testing.T, handler http.HandlerFunc) *TrelloClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	tc := NewTrelloClient("test-key", "test-token")
	tc.BaseURL = server.URL
	return tc
}

func TestMemberCards(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/members/alice/cards", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "test-token", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{
			"id": "c1",
			"name": "Fix the thing",
			"shortUrl": "https://trello.com/c/abc123",
			"idBoard": "b1",
			"idList": "l1",
			"badges": {"due": "2024-05-14T15:04:00.000Z"}
		}]`))
	})

	cards, err := tc.MemberCards(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "c1", cards[0].ID)
	assert.Equal(t, "Fix the thing", cards[0].Name)
	assert.Equal(t, "https://trello.com/c/abc123", cards[0].ShortURL)
	assert.Equal(t, "b1", cards[0].IDBoard)
	assert.Equal(t, "l1", cards[0].IDList)
	assert.Equal(t, "2024-05-14T15:04:00.000Z", cards[0].Badges.Due)
}

func TestMemberCardsUnknownUsername(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "member not found", http.StatusNotFound)
	})

	_, err := tc.MemberCards(context.Background(), "nobody")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestMemberBoardsAndLists(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/1/members/me/boards":
			w.Write([]byte(`[{"id": "b1", "name": "Board1"}]`))
		case "/1/boards/b1/lists":
			w.Write([]byte(`[{"id": "l1", "name": "Doing"}, {"id": "l2", "name": "Done"}]`))
		default:
			http.NotFound(w, r)
		}
	})

	boards, err := tc.MemberBoards(context.Background(), "me")
	require.NoError(t, err)
	require.Len(t, boards, 1)
	assert.Equal(t, "Board1", boards[0].Name)

	lists, err := tc.BoardLists(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, lists, 2)
	assert.Equal(t, "Doing", lists[0].Name)
}

func TestMember(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1/members/alice", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "m1", "username": "alice"}`))
	})

	member, err := tc.Member(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "m1", member.ID)
	assert.Equal(t, "alice", member.Username)
}

func TestCreateWebhook(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/1/webhooks/", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-key", r.PostForm.Get("key"))
		assert.Equal(t, "test-token", r.PostForm.Get("token"))
		assert.Equal(t, "http://buffy.example.com/trello/webhook", r.PostForm.Get("callbackURL"))
		assert.Equal(t, "m1", r.PostForm.Get("idModel"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "wh1"}`))
	})

	id, err := tc.CreateWebhook(context.Background(), "http://buffy.example.com/trello/webhook", "m1")
	require.NoError(t, err)
	assert.Equal(t, "wh1", id)
}

func TestDeleteWebhook(t *testing.T) {
	var gotPath string
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, tc.DeleteWebhook(context.Background(), "wh1"))
	assert.Equal(t, "/1/webhooks/wh1", gotPath)
}

func TestDeleteWebhookFailure(t *testing.T) {
	tc := newTestTrello(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone already", http.StatusBadRequest)
	})

	err := tc.DeleteWebhook(context.Background(), "wh1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
