package model

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// keyGenerator issues "{millis}-{000-999}" keys that are unique within the
// process. When a millisecond runs out of suffixes it borrows the next one.
type keyGenerator struct {
	mu     sync.Mutex
	millis int64
	used   map[int]bool
}

var keys = &keyGenerator{}

func (g *keyGenerator) next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms < g.millis {
		ms = g.millis
	}
	if ms != g.millis || g.used == nil {
		g.millis = ms
		g.used = make(map[int]bool)
	}
	if len(g.used) >= 1000 {
		g.millis++
		g.used = make(map[int]bool)
	}
	for {
		n := rand.Intn(1000)
		if !g.used[n] {
			g.used[n] = true
			return fmt.Sprintf("%d-%03d", g.millis, n)
		}
	}
}

// newEntityID returns the id for a new entity of model m in namespace ns.
func newEntityID(ns string, m *Model) string {
	base := ns + "/" + m.TypeName
	if m.Service == ServiceSingleton {
		return base
	}
	return base + "/" + keys.next(time.Now())
}
