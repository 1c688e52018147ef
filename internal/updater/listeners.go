package updater

import "sync"

// Listener is notified of update lifecycle events. Callbacks run
// synchronously, in registration order, on a snapshot of the listener set
// taken at notification time: a listener may unregister itself (or others)
// from inside a callback without corrupting the iteration.
type Listener interface {
	MetadataDownloaded(succeeded bool)
	WordListDownloadFinished(wordListID string, succeeded bool)
	UpdateCycleCompleted()
}

// ListenerToken identifies a registration for later removal.
type ListenerToken int

type listenerRegistry struct {
	mu        sync.Mutex
	next      ListenerToken
	order     []ListenerToken
	listeners map[ListenerToken]Listener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{listeners: make(map[ListenerToken]Listener)}
}

func (r *listenerRegistry) register(l Listener) ListenerToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	token := r.next
	r.listeners[token] = l
	r.order = append(r.order, token)

	return token
}

func (r *listenerRegistry) unregister(token ListenerToken) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.listeners, token)

	for i, t := range r.order {
		if t == token {
			r.order = append(r.order[:i], r.order[i+1:]...)

			break
		}
	}
}

func (r *listenerRegistry) snapshot() []Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Listener, 0, len(r.order))
	for _, t := range r.order {
		if l, ok := r.listeners[t]; ok {
			out = append(out, l)
		}
	}

	return out
}
