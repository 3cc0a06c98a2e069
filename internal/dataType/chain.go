package dataType

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrDuplicateEntry = errors.New("entry already in chain")
	ErrEmptyEntry     = errors.New("empty entry")
	ErrInvalidChain   = errors.New("invalid chain")
)

// Block is a single ledger entry linked to its predecessor by hash.
type Block struct {
	Index    int    `json:"index"`
	Data     string `json:"data"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

// Chain is an append-only, hash-linked sequence of blocks.
// ID is the genesis block hash and identifies the oscillation.
type Chain struct {
	ID     string  `json:"id"`
	Blocks []Block `json:"blocks"`
}

func NewChain() *Chain {
	return &Chain{}
}

func hashBlock(index int, prevHash, data string) string {
	h := xxhash.New()
	_, _ = h.WriteString(strconv.Itoa(index))
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(prevHash)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Blocks)
}

// Tip returns the hash of the last block, or "" for an empty chain.
func (c *Chain) Tip() string {
	if c.Len() == 0 {
		return ""
	}
	return c.Blocks[len(c.Blocks)-1].Hash
}

func (c *Chain) Contains(data string) bool {
	if c == nil {
		return false
	}
	for _, b := range c.Blocks {
		if b.Data == data {
			return true
		}
	}
	return false
}

// Names returns the block payloads in chain order.
func (c *Chain) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.Blocks))
	for i, b := range c.Blocks {
		names[i] = b.Data
	}
	return names
}

// Put appends data as a new block. The first block becomes the genesis and fixes the chain ID.
func (c *Chain) Put(data string) error {
	if data == "" {
		return ErrEmptyEntry
	}
	if c.Contains(data) {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, data)
	}
	index := len(c.Blocks)
	prev := c.Tip()
	b := Block{
		Index:    index,
		Data:     data,
		PrevHash: prev,
		Hash:     hashBlock(index, prev, data),
	}
	c.Blocks = append(c.Blocks, b)
	if index == 0 {
		c.ID = b.Hash
	}
	return nil
}

func (c *Chain) Clone() *Chain {
	if c == nil {
		return nil
	}
	out := &Chain{ID: c.ID, Blocks: make([]Block, len(c.Blocks))}
	copy(out.Blocks, c.Blocks)
	return out
}

// Validate checks the genesis id, indexes, links, hashes and entry uniqueness.
func (c *Chain) Validate() error {
	if c == nil || len(c.Blocks) == 0 {
		return fmt.Errorf("%w: no blocks", ErrInvalidChain)
	}
	if c.ID != c.Blocks[0].Hash {
		return fmt.Errorf("%w: id does not match genesis", ErrInvalidChain)
	}
	seen := make(map[string]struct{}, len(c.Blocks))
	prev := ""
	for i, b := range c.Blocks {
		if b.Index != i {
			return fmt.Errorf("%w: block %d has index %d", ErrInvalidChain, i, b.Index)
		}
		if b.Data == "" {
			return fmt.Errorf("%w: block %d is empty", ErrInvalidChain, i)
		}
		if _, ok := seen[b.Data]; ok {
			return fmt.Errorf("%w: block %d duplicates %s", ErrInvalidChain, i, b.Data)
		}
		seen[b.Data] = struct{}{}
		if b.PrevHash != prev {
			return fmt.Errorf("%w: block %d is not linked", ErrInvalidChain, i)
		}
		if b.Hash != hashBlock(i, prev, b.Data) {
			return fmt.Errorf("%w: block %d hash mismatch", ErrInvalidChain, i)
		}
		prev = b.Hash
	}
	return nil
}

// Merge folds foreign into c. The longer chain wins (ties go to the smaller
// tip hash); entries of the losing chain that the winner lacks are appended
// in their original order. It reports whether c changed.
func (c *Chain) Merge(foreign *Chain) (bool, error) {
	if err := foreign.Validate(); err != nil {
		return false, err
	}
	if c.Len() == 0 {
		*c = *foreign.Clone()
		return true, nil
	}

	beforeID, beforeTip := c.ID, c.Tip()

	winner, loser := c, foreign
	switch {
	case foreign.Len() > c.Len():
		winner, loser = foreign, c
	case foreign.Len() == c.Len() && foreign.Tip() < c.Tip():
		winner, loser = foreign, c
	}

	merged := winner.Clone()
	for _, b := range loser.Blocks {
		if merged.Contains(b.Data) {
			continue
		}
		if err := merged.Put(b.Data); err != nil {
			return false, err
		}
	}

	*c = *merged
	return c.ID != beforeID || c.Tip() != beforeTip, nil
}
