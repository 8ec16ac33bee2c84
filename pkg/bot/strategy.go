// Package bot runs the automated players that fill seats in practice rooms
// and take over when a disconnected player's grace window expires.
package bot

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
)

// Strategy picks one of the legal actions for a bot's turn. Pick is never
// called with an empty slice; the returned reasoning is logged, not sent
// anywhere.
type Strategy interface {
	Name() string
	Pick(legal []pidro.Action, view *pidro.View) (pidro.Action, string)
}

// NewStrategy builds a strategy by name. Each bot gets its own instance so
// random streams stay independent.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", "random":
		return NewRandomStrategy(), nil
	}
	return nil, fmt.Errorf("unknown strategy %q", name)
}

// RandomStrategy plays uniformly at random, except during the auction:
// unbiased bidding inflates every auction toward fourteen, so it passes
// with probability 0.70 and otherwise takes the minimum legal bid.
type RandomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomStrategy seeds a fresh random stream for one bot.
func NewRandomStrategy() *RandomStrategy {
	return &RandomStrategy{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// newRandomStrategySeeded pins the stream for deterministic tests.
func newRandomStrategySeeded(seed int64) *RandomStrategy {
	return &RandomStrategy{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomStrategy) Name() string { return "random" }

// Pick chooses the bot's action from the legal set.
func (s *RandomStrategy) Pick(legal []pidro.Action, view *pidro.View) (pidro.Action, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		minBid  *pidro.Action
		pass    *pidro.Action
		hasBids bool
	)
	for i := range legal {
		switch legal[i].Type {
		case pidro.ActionBid:
			hasBids = true
			if minBid == nil || legal[i].Bid < minBid.Bid {
				minBid = &legal[i]
			}
		case pidro.ActionPass:
			pass = &legal[i]
		}
	}

	if hasBids {
		if pass != nil && s.rng.Float64() < 0.70 {
			return *pass, "passing to keep the auction short"
		}
		if minBid != nil {
			if pass == nil {
				return *minBid, fmt.Sprintf("forced to bid, taking the minimum %d", minBid.Bid)
			}
			return *minBid, fmt.Sprintf("bidding the minimum %d", minBid.Bid)
		}
	}

	pick := legal[s.rng.Intn(len(legal))]
	return pick, fmt.Sprintf("random choice of %d legal actions", len(legal))
}
