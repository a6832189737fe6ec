// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devserver

import (
	"sync"
	"time"

	. "import.name/type/context"
)

// TicketStore remembers issued tickets until they are redeemed or expire.
type TicketStore interface {
	Issue(ctx Context, ticket string, expire time.Time) error

	// Redeem returns false if the ticket is unknown, expired or already
	// redeemed.
	Redeem(ctx Context, ticket string) (bool, error)
}

type MemoryTickets struct {
	mu      sync.Mutex
	tickets map[string]time.Time
}

func NewMemoryTickets() *MemoryTickets {
	return &MemoryTickets{
		tickets: make(map[string]time.Time),
	}
}

func (m *MemoryTickets) Issue(ctx Context, ticket string, expire time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expire(time.Now())
	m.tickets[ticket] = expire
	return nil
}

func (m *MemoryTickets) Redeem(ctx Context, ticket string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expire, found := m.tickets[ticket]
	if !found {
		return false, nil
	}
	delete(m.tickets, ticket)

	return !time.Now().After(expire), nil
}

func (m *MemoryTickets) expire(now time.Time) {
	for t, expire := range m.tickets {
		if now.After(expire) {
			delete(m.tickets, t)
		}
	}
}
