package tabsync

import "sync"

// statusSub feeds one LoginStatusChanged channel. Only the newest status is
// kept: a reader that falls behind sees intermediate flips collapsed, but the
// last value it receives is always the current one.
type statusSub struct {
	out  chan bool
	wake chan struct{}
	done chan struct{}
	stop sync.Once

	mu     sync.Mutex
	latest bool
}

// newStatusSub starts the delivery goroutine. announced is the status the
// subscriber is assumed to know already; it is never sent.
func newStatusSub(buffer int, announced bool) *statusSub {
	s := &statusSub{
		out:    make(chan bool, buffer),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		latest: announced,
	}
	go s.pump(announced)
	return s
}

// publish records v and never blocks.
func (s *statusSub) publish(v bool) {
	s.mu.Lock()
	s.latest = v
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *statusSub) close() {
	s.stop.Do(func() {
		close(s.done)
	})
}

func (s *statusSub) current() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *statusSub) pump(sent bool) {
	defer close(s.out)

	for {
		if v := s.current(); v != sent {
			select {
			case s.out <- v:
				sent = v
				continue
			case <-s.wake:
				continue
			case <-s.done:
			}
		} else {
			select {
			case <-s.wake:
				continue
			case <-s.done:
			}
		}

		// a status published just before close is handed over if there is room
		if v := s.current(); v != sent {
			select {
			case s.out <- v:
			default:
			}
		}
		return
	}
}
