package game

import (
	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
)

// Engine is the rules interface a coordinator drives. pidro.Rules is the
// production implementation; tests substitute scripted engines.
type Engine interface {
	InitialState(players map[pidro.Seat]string) (*pidro.State, error)
	Phase(st *pidro.State) pidro.Phase
	Winner(st *pidro.State) (pidro.Team, bool)
	CurrentTurn(st *pidro.State) (pidro.Seat, bool)
	LegalActions(st *pidro.State, seat pidro.Seat) []pidro.Action
	ApplyAction(st *pidro.State, seat pidro.Seat, act pidro.Action) (*pidro.State, error)
	MaskStateFor(st *pidro.State, viewer pidro.Viewer) *pidro.View
}

var _ Engine = (*pidro.Rules)(nil)
