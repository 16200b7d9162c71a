package connection

import (
	"sync"
	"time"

	"github.com/ashureev/tbchat-client/internal/domain"
)

// Transition describes one change of connection state.
type Transition struct {
	From domain.ConnectionState
	To   domain.ConnectionState
	Err  error
	At   time.Time
}

// StateListener observes connection state changes. Listeners are called
// from a single goroutine in the order the transitions happened.
type StateListener interface {
	StateChanged(t Transition)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(t Transition)

// StateChanged calls f(t).
func (f StateListenerFunc) StateChanged(t Transition) { f(t) }

// notifier queues transitions and hands them to listeners from one goroutine,
// so listeners may call back into the Manager without deadlocking.
type notifier struct {
	mu        sync.Mutex
	queue     []Transition
	listeners map[int]StateListener
	order     []int
	nextID    int

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

func newNotifier() *notifier {
	n := &notifier{
		listeners: make(map[int]StateListener),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	n.wg.Add(1)
	go n.run()
	return n
}

func (n *notifier) subscribe(l StateListener) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = l
	n.order = append(n.order, id)
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.listeners, id)
			for i, v := range n.order {
				if v == id {
					n.order = append(n.order[:i], n.order[i+1:]...)
					break
				}
			}
			n.mu.Unlock()
		})
	}
}

func (n *notifier) publish(t Transition) {
	n.mu.Lock()
	n.queue = append(n.queue, t)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			n.drain()
			return
		case <-n.wake:
			n.drain()
		}
	}
}

func (n *notifier) drain() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		t := n.queue[0]
		n.queue = n.queue[1:]
		listeners := make([]StateListener, 0, len(n.order))
		for _, id := range n.order {
			listeners = append(listeners, n.listeners[id])
		}
		n.mu.Unlock()

		for _, l := range listeners {
			l.StateChanged(t)
		}
	}
}

func (n *notifier) close() {
	close(n.done)
	n.wg.Wait()
}
