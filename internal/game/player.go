// Package game provides the shared world state mutated by connection
// goroutines and the fixed-rate update loop that advances it.
package game

import "time"

// Player is one live player record in the world state. Records are owned by
// the State; callers mutate them only through State operations.
type Player struct {
	// UID is the unique player identifier (the user id as string).
	UID string
	// UserID is the authenticated account id.
	UserID int64
	// Username is the account username, kept for logging.
	Username string
	// CharacterID is the selected character's database id, 0 before selection.
	CharacterID int64
	// Name is the character display name, empty before selection.
	Name string

	// X, Y are world coordinates.
	X, Y int
	// MapID is the current map.
	MapID int

	// HP and MP regenerate toward their maxima on each tick.
	HP, MaxHP int
	MP, MaxMP int

	// ChannelID is the channel whose membership list holds this player,
	// 0 when unassigned.
	ChannelID int64

	// LastUpdate is the wall-clock time of the last tick that touched
	// this record.
	LastUpdate time.Time
}
