package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/mealog/internal/infra/storage"
)

// ChangeChannel is the NOTIFY channel the meals trigger publishes on.
const ChangeChannel = "meal_changes"

// Change is one row change reported by the meals trigger.
type Change struct {
	Collection storage.CollectionPath `json:"collection"`
	Date       string                 `json:"date"`
	Type       string                 `json:"type"`
	OldDate    string                 `json:"old_date,omitempty"`
	OldType    string                 `json:"old_type,omitempty"`
}

// ParseChange decodes a trigger payload.
func ParseChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("invalid change payload: %w", err)
	}
	if c.Collection == "" {
		return Change{}, fmt.Errorf("invalid change payload: missing collection")
	}
	return c, nil
}

// Affects reports whether a query with filter could see the changed row
// before or after the change.
func (c Change) Affects(f storage.Filter) bool {
	switch f.Field {
	case storage.FieldDate:
		return c.Date == f.Equals || (c.OldDate != "" && c.OldDate == f.Equals)
	case storage.FieldType:
		return c.Type == f.Equals || (c.OldType != "" && c.OldType == f.Equals)
	default:
		return true
	}
}

// Listener receives meal change notifications over a dedicated connection
// and forwards them to a MealStore.
type Listener struct {
	listener *pq.Listener
	store    *MealStore
	log      *slog.Logger
}

// NewListener opens the LISTEN connection for url.
func NewListener(url string, store *MealStore, log *slog.Logger) (*Listener, error) {
	if log == nil {
		log = slog.Default()
	}
	l := &Listener{store: store, log: log}
	l.listener = pq.NewListener(url, 10*time.Second, time.Minute, l.onEvent)
	if err := l.listener.Listen(ChangeChannel); err != nil {
		_ = l.listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}
	return l, nil
}

func (l *Listener) onEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.log.Info("Meal change listener connected")
	case pq.ListenerEventDisconnected:
		l.log.Warn("Meal change listener disconnected", "error", err)
	case pq.ListenerEventReconnected:
		l.log.Info("Meal change listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.log.Warn("Meal change listener reconnect failed", "error", err)
	}
}

// Run dispatches notifications until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.listener.Notify:
			// A nil notification follows a reconnect; changes may have been missed.
			if n == nil {
				l.store.NotifyAll()
				continue
			}
			c, err := ParseChange(n.Extra)
			if err != nil {
				l.log.Error("Dropping meal change", "error", err)
				continue
			}
			l.store.Notify(c)
		case <-ping.C:
			go func() {
				if err := l.listener.Ping(); err != nil {
					l.log.Warn("Meal change listener ping failed", "error", err)
				}
			}()
		}
	}
}

// Close closes the LISTEN connection.
func (l *Listener) Close() error {
	return l.listener.Close()
}
