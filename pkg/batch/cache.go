package batch

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
)

// ScriptCache keeps tokenized scripts keyed by a digest of their text, so
// a script submitted repeatedly with different parameters is split and
// classified only once.
type ScriptCache struct {
	lru *lru.Cache[[blake2b.Size256]byte, []Statement]
}

// NewScriptCache holds up to size scripts.
func NewScriptCache(size int) (*ScriptCache, error) {
	c, err := lru.New[[blake2b.Size256]byte, []Statement](size)
	if err != nil {
		return nil, err
	}
	return &ScriptCache{lru: c}, nil
}

// Tokenize returns the cached statements for script, tokenizing on a miss.
// Scripts that fail to tokenize are not cached.
func (c *ScriptCache) Tokenize(script string) ([]Statement, error) {
	key := blake2b.Sum256([]byte(script))
	if stmts, ok := c.lru.Get(key); ok {
		return copyStatements(stmts), nil
	}
	stmts, err := Tokenize(script)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, stmts)
	return copyStatements(stmts), nil
}

// Len is the number of cached scripts.
func (c *ScriptCache) Len() int { return c.lru.Len() }

// Purge empties the cache.
func (c *ScriptCache) Purge() { c.lru.Purge() }

func copyStatements(stmts []Statement) []Statement {
	out := make([]Statement, len(stmts))
	copy(out, stmts)
	return out
}
