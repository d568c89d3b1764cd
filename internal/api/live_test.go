package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func (e *testEnv) dial(t *testing.T, query, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/meals/live" + query
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// expect reads messages until one satisfies match.
func expect(t *testing.T, conn *websocket.Conn, what string, match func(ServerMessage) bool) ServerMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var m ServerMessage
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(m) {
			return m
		}
	}
}

func TestLive_AuthenticatedFeed(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t, "me@example.com")

	resp, _ := env.do(t, http.MethodPost, "/meals", token, map[string]string{
		"date": "2024-07-15", "type": "breakfast", "dish": "Toast",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d", resp.StatusCode)
	}

	conn := env.dial(t, "?date=2024-07-15", token)

	id := expect(t, conn, "identity", func(m ServerMessage) bool { return m.Type == msgIdentity })
	if id.OwnerID == "" {
		t.Fatal("expected an owner in the identity message")
	}

	m := expect(t, conn, "meals", func(m ServerMessage) bool { return m.Type == msgMeals })
	if len(m.Meals) != 1 || m.Meals[0].DishName != "Toast" || m.Date.String() != "2024-07-15" {
		t.Fatalf("unexpected initial view %+v", m)
	}

	// A new day starts empty, then shows entries added to it.
	if err := conn.WriteJSON(ClientMessage{Type: msgShiftDate, Days: 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expect(t, conn, "empty next day", func(m ServerMessage) bool {
		return m.Type == msgMeals && m.Date.String() == "2024-07-16" && len(m.Meals) == 0
	})

	env.do(t, http.MethodPost, "/meals", token, map[string]string{
		"date": "2024-07-16", "type": "lunch", "dish": "Noodles",
	})
	expect(t, conn, "live update", func(m ServerMessage) bool {
		return m.Type == msgMeals && len(m.Meals) == 1 && m.Meals[0].DishName == "Noodles"
	})

	// Entries for other dates never reach this view.
	env.do(t, http.MethodPost, "/meals", token, map[string]string{
		"date": "2024-07-15", "type": "dinner", "dish": "Soup",
	})

	if err := conn.WriteJSON(ClientMessage{Type: msgSignOut}); err != nil {
		t.Fatalf("write: %v", err)
	}
	signedOut := expect(t, conn, "signed out identity", func(m ServerMessage) bool { return m.Type == msgIdentity })
	if signedOut.OwnerID != "" {
		t.Errorf("expected empty owner after sign out, got %q", signedOut.OwnerID)
	}
	m = expect(t, conn, "cleared view", func(m ServerMessage) bool { return m.Type == msgMeals && m.OwnerID == "" })
	if len(m.Meals) != 0 {
		t.Errorf("expected empty view after sign out, got %+v", m)
	}

	// The token was revoked by signing out.
	resp, _ = env.do(t, http.MethodGet, "/meals?date=2024-07-16", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("revoked token status = %d", resp.StatusCode)
	}
}

func TestLive_AuthMessage(t *testing.T) {
	env := newTestEnv(t)
	token := env.signUp(t, "me@example.com")

	conn := env.dial(t, "?date=2024-07-15", "")
	m := expect(t, conn, "anonymous view", func(m ServerMessage) bool { return m.Type == msgMeals })
	if m.OwnerID != "" || len(m.Meals) != 0 {
		t.Fatalf("expected empty view before sign in, got %+v", m)
	}

	if err := conn.WriteJSON(ClientMessage{Type: msgAuth, Token: token}); err != nil {
		t.Fatalf("write: %v", err)
	}
	id := expect(t, conn, "identity", func(m ServerMessage) bool { return m.Type == msgIdentity })
	expect(t, conn, "owner view", func(m ServerMessage) bool {
		return m.Type == msgMeals && m.OwnerID == id.OwnerID
	})
}

func TestLive_BadMessages(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "", "")

	if err := conn.WriteJSON(ClientMessage{Type: msgAuth, Token: "not-a-jwt"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expect(t, conn, "auth error", func(m ServerMessage) bool { return m.Type == msgError && m.Message != "" })

	if err := conn.WriteJSON(ClientMessage{Type: msgSelectDate, Date: "yesterday"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expect(t, conn, "date error", func(m ServerMessage) bool { return m.Type == msgError })

	if err := conn.WriteJSON(ClientMessage{Type: "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := expect(t, conn, "unknown type error", func(m ServerMessage) bool {
		return m.Type == msgError && strings.Contains(m.Message, "dance")
	})
	if m.Message == "" {
		t.Error("expected a message")
	}
}

func TestLive_BadDateQuery(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/meals/live?date=nope", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
