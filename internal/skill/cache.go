package skill

import "github.com/DoyleJ11/autohost/internal/roster"

// Cache holds resolved skills per game type. Entries survive balance passes
// and are dropped when an account's preferences change or it leaves.
type Cache struct {
	entries map[GameType]map[string]roster.Skill
}

func NewCache() *Cache {
	return &Cache{entries: make(map[GameType]map[string]roster.Skill)}
}

func (c *Cache) Get(gameType GameType, account string) (roster.Skill, bool) {
	s, ok := c.entries[gameType][account]
	return s, ok
}

func (c *Cache) Put(gameType GameType, account string, s roster.Skill) {
	m := c.entries[gameType]
	if m == nil {
		m = make(map[string]roster.Skill)
		c.entries[gameType] = m
	}
	m[account] = s
}

// Invalidate forgets every game type entry of one account.
func (c *Cache) Invalidate(account string) {
	for _, m := range c.entries {
		delete(m, account)
	}
}

func (c *Cache) Reset() { clear(c.entries) }
