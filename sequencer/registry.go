package sequencer

import (
	"time"
)

type opKind int

const (
	opPut opKind = iota
	opGet
	opDelete
	opLen
)

type registryOp struct {
	kind    opKind
	id      string
	session *Session
	result  chan<- registryResult
}

type registryResult struct {
	session *Session
	n       int
}

type registryEntry struct {
	session  *Session
	lastSeen time.Time
}

// Registry keeps live sessions in memory. A single goroutine owns the map;
// sessions idle for longer than the TTL are dropped.
type Registry struct {
	ops  chan registryOp
	done chan struct{}
	ttl  time.Duration
}

func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{
		ops:  make(chan registryOp),
		done: make(chan struct{}),
		ttl:  ttl,
	}
	go r.loop()
	return r
}

func (r *Registry) loop() {
	sweep := r.ttl / 2
	if sweep > time.Minute {
		sweep = time.Minute
	}
	if sweep <= 0 {
		sweep = time.Minute
	}
	ticker := time.NewTicker(sweep)
	defer ticker.Stop()

	sessions := make(map[string]*registryEntry)
	for {
		select {
		case op := <-r.ops:
			switch op.kind {
			case opPut:
				sessions[op.session.ID] = &registryEntry{op.session, time.Now()}
			case opGet:
				var s *Session
				if e, ok := sessions[op.id]; ok {
					e.lastSeen = time.Now()
					s = e.session
				}
				op.result <- registryResult{session: s}
			case opDelete:
				delete(sessions, op.id)
			case opLen:
				op.result <- registryResult{n: len(sessions)}
			}
		case now := <-ticker.C:
			for id, e := range sessions {
				if r.ttl > 0 && now.Sub(e.lastSeen) > r.ttl {
					delete(sessions, id)
				}
			}
		case <-r.done:
			return
		}
	}
}

func (r *Registry) send(op registryOp) bool {
	select {
	case r.ops <- op:
		return true
	case <-r.done:
		return false
	}
}

func (r *Registry) Put(s *Session) {
	r.send(registryOp{kind: opPut, session: s})
}

func (r *Registry) Get(id string) (*Session, bool) {
	result := make(chan registryResult, 1)
	if !r.send(registryOp{kind: opGet, id: id, result: result}) {
		return nil, false
	}
	res := <-result
	return res.session, res.session != nil
}

func (r *Registry) Delete(id string) {
	r.send(registryOp{kind: opDelete, id: id})
}

func (r *Registry) Len() int {
	result := make(chan registryResult, 1)
	if !r.send(registryOp{kind: opLen, result: result}) {
		return 0
	}
	return (<-result).n
}

func (r *Registry) Close() {
	close(r.done)
}
