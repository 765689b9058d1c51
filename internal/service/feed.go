package service

import (
	"sync"

	"github.com/sakif/checkinn/internal/model"
)

// userFeed fans out "current user changed" events.
//
// New subscribers immediately receive the latest value (nil when signed out),
// then every later change in order. Delivery is synchronous and serialized
// by mu, so a subscriber must not subscribe or cancel from inside its
// callback.
type userFeed struct {
	mu     sync.Mutex
	latest *model.User
	subs   map[int]func(*model.User)
	nextID int
}

func newUserFeed(initial *model.User) *userFeed {
	return &userFeed{latest: cloneUser(initial), subs: make(map[int]func(*model.User))}
}

func (f *userFeed) subscribe(fn func(*model.User)) (cancel func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	fn(cloneUser(f.latest))

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
		})
	}
}

func (f *userFeed) publish(u *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = cloneUser(u)
	for _, fn := range f.subs {
		fn(cloneUser(u))
	}
}

func cloneUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
