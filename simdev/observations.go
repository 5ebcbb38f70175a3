package simdev

import (
	"sync"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/mux"
)

// observation is one registered observe relation. The server replaces an
// existing relation when it observes the same path again.
type observation struct {
	conn  mux.Conn
	token message.Token
	seq   uint32
}

type observations struct {
	mu     sync.Mutex
	byPath map[string]*observation
}

func newObservations() *observations {
	return &observations{byPath: make(map[string]*observation)}
}

func (o *observations) add(path string, conn mux.Conn, token message.Token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byPath[path] = &observation{conn: conn, token: token, seq: 2}
}

func (o *observations) remove(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.byPath, path)
}

// bump returns the observation for a path with its next sequence number, if
// the path is observed.
func (o *observations) bump(path string) (*observation, uint32, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	obs, ok := o.byPath[path]
	if !ok {
		return nil, 0, false
	}
	seq := obs.seq
	obs.seq++
	return obs, seq, true
}
