package event

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// MemberRoleChanged is emitted after a member role mutation commits so
// permission caches can drop stale grants.
type MemberRoleChanged struct {
	TenantID snowflake.ID
	UserID   snowflake.ID
	Role     string
}

type Bus struct {
	mu       sync.RWMutex
	handlers []func(MemberRoleChanged)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) SubscribeMemberRoleChanged(fn func(MemberRoleChanged)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, fn)
}

func (b *Bus) PublishMemberRoleChanged(evt MemberRoleChanged) {
	b.mu.RLock()
	handlers := make([]func(MemberRoleChanged), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(evt)
	}
}
