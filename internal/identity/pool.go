// Package identity holds the fixed, ordered set of sender bots that take
// turns delivering counter ticks.
package identity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyPool  = errors.New("identity pool is empty")
	ErrEmptyToken = errors.New("identity token is empty")
)

// Identity is one sender credential (a Telegram bot token).
type Identity struct {
	Name  string
	Token string
}

// String never includes the token.
func (i Identity) String() string { return i.Name }

// Pool is immutable after New.
type Pool struct {
	ids []Identity
}

// New builds a pool. Unnamed identities get "bot<N>" (1-based) names.
func New(ids ...Identity) (*Pool, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyPool
	}
	cp := make([]Identity, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for i, id := range ids {
		id.Token = strings.TrimSpace(id.Token)
		id.Name = strings.TrimSpace(id.Name)
		if id.Token == "" {
			return nil, fmt.Errorf("identity %d: %w", i+1, ErrEmptyToken)
		}
		if id.Name == "" {
			id.Name = fmt.Sprintf("bot%d", i+1)
		}
		if _, dup := seen[id.Name]; dup {
			return nil, fmt.Errorf("identity %d: duplicate name %q", i+1, id.Name)
		}
		seen[id.Name] = struct{}{}
		cp[i] = id
	}
	return &Pool{ids: cp}, nil
}

func (p *Pool) Len() int { return len(p.ids) }

func (p *Pool) At(i int) Identity { return p.ids[i] }

func (p *Pool) Names() []string {
	out := make([]string, len(p.ids))
	for i, id := range p.ids {
		out[i] = id.Name
	}
	return out
}

// Next returns the identity at *cursor and advances the cursor with wraparound.
// The caller must hold the lock guarding cursor.
func (p *Pool) Next(cursor *int) Identity {
	n := len(p.ids)
	idx := *cursor % n
	if idx < 0 {
		idx += n
	}
	*cursor = (idx + 1) % n
	return p.ids[idx]
}
