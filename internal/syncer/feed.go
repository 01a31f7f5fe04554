package syncer

import "sync"

// PushFeed is an in-process Feed for deployments where the platform's push
// receiver lives in the same process: the receiver calls Push for each
// incoming remote change, and the router consumes them via Subscribe.
type PushFeed struct {
	mu      sync.Mutex
	handler func(ChangeEvent)
}

func NewPushFeed() *PushFeed { return &PushFeed{} }

// Subscribe installs handler. Only one subscriber is supported; a second
// Subscribe replaces the first.
func (f *PushFeed) Subscribe(handler func(ChangeEvent)) (func(), error) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			f.mu.Lock()
			f.handler = nil
			f.mu.Unlock()
		})
	}
	return unsub, nil
}

// Push hands one event to the current subscriber, if any.
func (f *PushFeed) Push(ev ChangeEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}
