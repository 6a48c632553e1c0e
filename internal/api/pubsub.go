package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/victornm/testlink/internal/domain"
	"github.com/victornm/testlink/internal/score"
)

const subscriberBuffer = 16

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishResultRecorded fans a recorded result out to live feed subscribers. With Redis the
// notification goes through {prefix}:results so every instance sees it.
func (a *API) PublishResultRecorded(ctx context.Context, e domain.EventResultRecorded) error {
	return a.publish(ctx, Notification{
		Event: e.Name(),
		Data:  score.NewResultEntry(e.Result),
	})
}

func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	return a.publish(ctx, Notification{
		Event: e.Name(),
		Data:  e.Leaderboard,
	})
}

func (a *API) publish(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", n.Event, err)
	}

	if a.redis == nil {
		a.hub.broadcast(b)
		return nil
	}

	return a.redis.Publish(ctx, a.resultsChannel(), b).Err()
}

// subscribeResults returns a stream of encoded notifications and a function to stop it.
func (a *API) subscribeResults(ctx context.Context) (<-chan []byte, func()) {
	if a.redis == nil {
		return a.hub.subscribe()
	}

	sub := a.redis.Subscribe(ctx, a.resultsChannel())
	out := make(chan []byte, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- []byte(msg.Payload):
			default: // slow reader, drop
			}
		}
	}()

	return out, func() { _ = sub.Close() }
}

func (a *API) resultsChannel() string {
	return fmt.Sprintf("%s:results", a.prefix)
}

// hub is the in-process fan-out used when no Redis is configured.
type hub struct {
	mu   sync.Mutex
	next int
	subs map[int]chan []byte
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan []byte)}
}

func (h *hub) subscribe() (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan []byte, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *hub) broadcast(b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- b:
		default:
		}
	}
}
