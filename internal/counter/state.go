package counter

import (
	"sync"
	"time"
)

// chatState is guarded by mu. It is created on first reference and lives
// for the process lifetime.
type chatState struct {
	mu sync.Mutex

	running      bool
	current      int
	interval     time.Duration
	nextIdentity int
}

type registry struct {
	mu    sync.Mutex
	chats map[int64]*chatState
}

func newRegistry() *registry {
	return &registry{chats: map[int64]*chatState{}}
}

// get returns the chat's state, creating it with defInterval if missing.
func (r *registry) get(chatID int64, defInterval time.Duration) *chatState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.chats[chatID]
	if !ok {
		st = &chatState{current: 1, interval: defInterval}
		r.chats[chatID] = st
	}
	return st
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats)
}

func (st *chatState) snapshot(chatID int64) Snapshot {
	return Snapshot{
		ChatID:       chatID,
		Running:      st.running,
		Current:      st.current,
		Interval:     st.interval,
		NextIdentity: st.nextIdentity,
	}
}
