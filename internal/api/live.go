package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vietddude/mealog/internal/auth"
	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/livequery"
	"github.com/vietddude/mealog/internal/metrics"
)

// Client message types.
const (
	msgAuth       = "auth"
	msgSignOut    = "sign_out"
	msgSelectDate = "select_date"
	msgShiftDate  = "shift_date"
)

// Server message types.
const (
	msgMeals    = "meals"
	msgError    = "error"
	msgIdentity = "identity"
)

// ClientMessage is sent by the client over the live feed.
type ClientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	Date  string `json:"date,omitempty"`
	Days  int    `json:"days,omitempty"`
}

// ServerMessage is sent to the client over the live feed. A meals message
// without a meals field means the date has no entries.
type ServerMessage struct {
	Type      string              `json:"type"`
	Date      *civil.Date         `json:"date,omitempty"`
	OwnerID   domain.OwnerID      `json:"owner_id,omitempty"`
	Anonymous bool                `json:"anonymous,omitempty"`
	Meals     []domain.MealRecord `json:"meals,omitempty"`
	Message   string              `json:"message,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// liveConn is one client of the live feed. It owns a session and a watcher
// that follows it.
type liveConn struct {
	srv     *Server
	conn    *websocket.Conn
	session *auth.Session
	watcher *livequery.Watcher
	token   string

	out  chan ServerMessage
	done chan struct{}
	once sync.Once
}

func (s *Server) handleLive(c *gin.Context) {
	date := s.today()
	if q := c.Query("date"); q != "" {
		d, err := domain.ParseDate(q)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date = d
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	lc := &liveConn{
		srv:     s,
		conn:    conn,
		session: auth.NewSession(),
		out:     make(chan ServerMessage, 16),
		done:    make(chan struct{}),
	}
	lc.watcher = s.meals.Watcher(livequery.WatcherConfig{
		Date:     date,
		Location: s.cfg.Location,
		Logger:   s.log,
		OnView: func(v livequery.View) {
			d := v.Date
			lc.send(ServerMessage{Type: msgMeals, Date: &d, OwnerID: v.Owner, Meals: v.Meals})
		},
		OnError: func(_ civil.Date, err error) {
			_, msg := classifyError(err)
			lc.send(ServerMessage{Type: msgError, Message: msg})
		},
	})

	metrics.LiveConnections.Inc()
	defer metrics.LiveConnections.Dec()

	go lc.writeLoop()
	go func() {
		select {
		case <-s.shutdown:
			lc.close()
		case <-lc.done:
		}
	}()

	if token := bearerToken(c); token != "" {
		lc.authenticate(c.Request.Context(), token)
	}
	lc.watcher.Follow(lc.session)
	lc.watcher.Start()

	lc.readLoop()
	lc.close()
}

func (lc *liveConn) send(m ServerMessage) {
	select {
	case lc.out <- m:
	case <-lc.done:
	}
}

func (lc *liveConn) close() {
	lc.once.Do(func() {
		close(lc.done)
		lc.watcher.Close()
		_ = lc.conn.Close()
	})
}

func (lc *liveConn) readLoop() {
	lc.conn.SetReadLimit(maxMessageSize)
	pongWait := 2 * lc.srv.cfg.PingInterval
	_ = lc.conn.SetReadDeadline(time.Now().Add(pongWait))
	lc.conn.SetPongHandler(func(string) error {
		return lc.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := lc.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = lc.conn.SetReadDeadline(time.Now().Add(pongWait))
		lc.handle(msg)
	}
}

func (lc *liveConn) handle(msg ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch msg.Type {
	case msgAuth:
		lc.authenticate(ctx, msg.Token)
	case msgSignOut:
		if lc.token != "" {
			if err := lc.srv.auth.SignOut(ctx, lc.token); err != nil {
				lc.srv.log.Warn("Sign out failed", "error", err)
				_, m := classifyError(err)
				lc.send(ServerMessage{Type: msgError, Message: m})
				return
			}
		}
		lc.token = ""
		lc.send(ServerMessage{Type: msgIdentity})
		lc.session.Clear()
	case msgSelectDate:
		d, err := domain.ParseDate(msg.Date)
		if err != nil {
			lc.send(ServerMessage{Type: msgError, Message: err.Error()})
			return
		}
		lc.watcher.SetDate(d)
	case msgShiftDate:
		lc.watcher.ShiftDate(msg.Days)
	default:
		lc.send(ServerMessage{Type: msgError, Message: "unknown message type " + msg.Type})
	}
}

func (lc *liveConn) authenticate(ctx context.Context, token string) {
	id, err := lc.srv.auth.Verify(ctx, token)
	if err != nil {
		_, m := classifyError(err)
		lc.send(ServerMessage{Type: msgError, Message: m})
		return
	}
	lc.token = token
	lc.send(ServerMessage{Type: msgIdentity, OwnerID: id.OwnerID, Anonymous: id.Anonymous})
	lc.session.Set(id)
}

// writeLoop is the only goroutine that writes to the connection.
func (lc *liveConn) writeLoop() {
	ticker := time.NewTicker(lc.srv.cfg.PingInterval)
	defer ticker.Stop()
	defer lc.close()

	for {
		select {
		case <-lc.done:
			return
		case m := <-lc.out:
			_ = lc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := lc.conn.WriteJSON(m); err != nil {
				return
			}
		case <-ticker.C:
			_ = lc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := lc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
