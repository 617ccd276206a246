package pkg

import (
	"sync"
)

// Client is one student. A student may hold several sessions at once, each
// of which is a separate room member.
type Client struct {
	lock     sync.RWMutex
	id       uint64
	nickname string
	sessions []*Session
}

func (c *Client) ID() uint64 {
	return c.id
}

// Nickname is the name from the student's latest hello.
func (c *Client) Nickname() string {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.nickname
}

func (c *Client) Sessions() []*Session {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return append([]*Session(nil), c.sessions...)
}
