// Package character defines the character domain model, spawn defaults, and
// name validation.
package character

import (
	"regexp"
	"time"
)

// Spawn defaults for newly created characters.
const (
	SpawnX     = 100
	SpawnY     = 100
	SpawnMapID = 100001
	SpawnHP    = 50
	SpawnMP    = 0
)

// Only letters, numbers, and underscores; at most 12 characters.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9_]{1,12}$`)

// NameReasonInvalid is the reason returned for a name that violates the
// pattern rule.
const NameReasonInvalid = "Invalid name: only letters, numbers, underscores, 1-12 characters allowed"

// NameReasonTaken is the reason returned for a name already in use.
const NameReasonTaken = "Character name already exists"

// ValidName reports whether name satisfies the character name pattern.
func ValidName(name string) bool {
	return nameRE.MatchString(name)
}

// Stats is a character's level and attribute block.
type Stats struct {
	Level int
	Exp   int
	HP    int
	MP    int
	Str   int
	Dex   int
	Agi   int
	Vit   int
	Int   int
}

// Appearance holds cosmetic creation choices, persisted as JSON.
type Appearance struct {
	Gender string `json:"gender"`
	Hair   string `json:"hair,omitempty"`
}

// Gear maps equipment slots to item identifiers; nil means the slot is empty.
type Gear map[string]*int64

// EmptyGear returns a gear set with every slot unoccupied.
func EmptyGear() Gear {
	return Gear{
		"helm":      nil,
		"armor":     nil,
		"pants":     nil,
		"accessory": nil,
		"weapon":    nil,
	}
}

// Character is a player character's persistent state. ID is set by the
// persistence layer; zero means unsaved.
type Character struct {
	ID     int64
	UserID int64
	Name   string

	X     int
	Y     int
	MapID int

	Stats      Stats
	Appearance Appearance
	Gear       Gear

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds an unsaved character with spawn defaults for the given owner.
//
// Precondition: name must already have passed ValidName.
func New(userID int64, name string, appearance Appearance) *Character {
	return &Character{
		UserID:     userID,
		Name:       name,
		X:          SpawnX,
		Y:          SpawnY,
		MapID:      SpawnMapID,
		Stats:      Stats{HP: SpawnHP, MP: SpawnMP},
		Appearance: appearance,
		Gear:       EmptyGear(),
	}
}

// Payload returns the character's wire representation as sent to clients.
func (c *Character) Payload() map[string]any {
	return map[string]any{
		"id":     c.ID,
		"name":   c.Name,
		"x":      c.X,
		"y":      c.Y,
		"map_id": c.MapID,
		"stats": map[string]any{
			"Level": c.Stats.Level,
			"Exp":   c.Stats.Exp,
			"HP":    c.Stats.HP,
			"MP":    c.Stats.MP,
			"STR":   c.Stats.Str,
			"DEX":   c.Stats.Dex,
			"AGI":   c.Stats.Agi,
			"VIT":   c.Stats.Vit,
			"INT":   c.Stats.Int,
		},
	}
}

// Payloads maps a character list to its wire representation.
func Payloads(chars []*Character) []any {
	out := make([]any, 0, len(chars))
	for _, c := range chars {
		out = append(out, c.Payload())
	}
	return out
}
