package wshub

import "github.com/goranbacvar/Cyviz/internal/cmap"

// hub is the registry and message router behind a Hub: it owns the
// set of live sessions and serializes registration/broadcast through
// a single goroutine (run) so session bookkeeping never races.
type hub struct {
	sessions   *cmap.Map[*Session]
	queue      chan *envelope
	register   chan *Session
	unregister chan *Session
	exit       chan *envelope
	open       bool
}

func newHub() *hub {
	return &hub{
		sessions:   cmap.New[*Session](),
		queue:      make(chan *envelope),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		exit:       make(chan *envelope),
		open:       true,
	}
}

func (h *hub) run() {
loop:
	for {
		select {
		case s := <-h.register:
			if h.open {
				h.sessions.Set(s.UUID, s)
			}
		case s := <-h.unregister:
			h.sessions.Remove(s.UUID)
		case m := <-h.queue:
			switch {
			case len(m.list) > 0:
				for _, uuid := range m.list {
					if s, ok := h.sessions.Get(uuid); ok {
						s.writeMessage(m)
					}
				}
			case m.filter == nil:
				h.sessions.IterCb(func(_ string, s *Session) bool {
					s.writeMessage(m)
					return true
				})
			default:
				h.sessions.IterCb(func(_ string, s *Session) bool {
					if m.filter(s) {
						s.writeMessage(m)
					}
					return true
				})
			}
		case m := <-h.exit:
			var keys []string
			h.open = false
			h.sessions.IterCb(func(uuid string, s *Session) bool {
				s.writeMessage(m)
				s.Close()
				keys = append(keys, uuid)
				return true
			})
			for _, k := range keys {
				h.sessions.Remove(k)
			}
			break loop
		}
	}
}

func (h *hub) closed() bool { return !h.open }

func (h *hub) len() int { return h.sessions.Count() }

func (h *hub) list() []string {
	keys := make([]string, 0, h.sessions.Count())
	h.sessions.IterCb(func(k string, _ *Session) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}
