package dataType

import (
	"sync"
	"time"
)

// BanList holds peer names that are refused until an expiration time.
type BanList struct {
	mu     sync.RWMutex
	banned map[string]int64
	now    func() time.Time
}

func NewBanList() *BanList {
	return &BanList{
		banned: make(map[string]int64),
		now:    time.Now,
	}
}

func (bl *BanList) Ban(name string, d time.Duration) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	expiration := bl.now().Add(d).Unix()
	// Keep the later expiration if already banned
	if existing, ok := bl.banned[name]; ok && existing >= expiration {
		return
	}
	bl.banned[name] = expiration
}

func (bl *BanList) IsBanned(name string) bool {
	bl.mu.RLock()
	defer bl.mu.RUnlock()
	expiration, ok := bl.banned[name]
	if !ok {
		return false
	}
	return bl.now().Unix() < expiration
}

// Cleanup removes expired bans.
func (bl *BanList) Cleanup() {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	now := bl.now().Unix()
	for name, exp := range bl.banned {
		if exp <= now {
			delete(bl.banned, name)
		}
	}
}
