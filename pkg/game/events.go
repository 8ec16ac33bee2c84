package game

import (
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
)

// StateUpdate is published on game:<code> after every accepted action and
// once at startup with Seq 0. The state pointer is shared in-process and
// must be treated as read-only; transports re-mask it per viewer before it
// leaves the process.
type StateUpdate struct {
	Code  string       `json:"code"`
	Seq   uint64       `json:"seq"`
	State *pidro.State `json:"state"`
}

// GameOver is published once when the engine reaches its terminal phase,
// or with Aborted set when the coordinator dies mid-game.
type GameOver struct {
	Code    string             `json:"code"`
	Winner  pidro.Team         `json:"winner,omitempty"`
	Scores  map[pidro.Team]int `json:"scores,omitempty"`
	Aborted bool               `json:"aborted,omitempty"`
}
