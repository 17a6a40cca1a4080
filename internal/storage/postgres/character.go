package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftmoor/gameserver/internal/game/character"
)

// ErrCharacterNotFound is returned when a character lookup yields no results.
var ErrCharacterNotFound = errors.New("character not found")

// ErrNameTaken is returned when creating a character whose name is already
// in use by any user. Character names are globally unique.
var ErrNameTaken = errors.New("character name already taken")

// CharacterRepository provides character persistence operations.
type CharacterRepository struct {
	db *pgxpool.Pool
}

// NewCharacterRepository creates a CharacterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewCharacterRepository(db *pgxpool.Pool) *CharacterRepository {
	return &CharacterRepository{db: db}
}

const characterColumns = `id, user_id, name, x, y, map_id,
	level, exp, hp, mp, strength, dexterity, agility, vitality, intellect,
	appearance, gear, created_at, updated_at`

// Create inserts a new character and returns it with ID and timestamps set.
//
// Precondition: c.UserID must reference an existing user; c.Name must have
// passed character.ValidName.
// Postcondition: Returns the created character, or ErrNameTaken on duplicate.
func (r *CharacterRepository) Create(ctx context.Context, c *character.Character) (*character.Character, error) {
	appearance, err := json.Marshal(c.Appearance)
	if err != nil {
		return nil, fmt.Errorf("marshalling appearance: %w", err)
	}
	gear, err := json.Marshal(c.Gear)
	if err != nil {
		return nil, fmt.Errorf("marshalling gear: %w", err)
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO characters
			(user_id, name, x, y, map_id,
			 level, exp, hp, mp, strength, dexterity, agility, vitality, intellect,
			 appearance, gear)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING `+characterColumns,
		c.UserID, c.Name, c.X, c.Y, c.MapID,
		c.Stats.Level, c.Stats.Exp, c.Stats.HP, c.Stats.MP,
		c.Stats.Str, c.Stats.Dex, c.Stats.Agi, c.Stats.Vit, c.Stats.Int,
		appearance, gear,
	)

	out, err := scanCharacter(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("inserting character: %w", err)
	}
	return out, nil
}

// ListByUser returns all characters owned by the given user, oldest first.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *CharacterRepository) ListByUser(ctx context.Context, userID int64) ([]*character.Character, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+characterColumns+` FROM characters
		 WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing characters: %w", err)
	}
	defer rows.Close()

	chars := make([]*character.Character, 0)
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning character row: %w", err)
		}
		chars = append(chars, c)
	}
	return chars, rows.Err()
}

// GetByID retrieves a character by its primary key.
//
// Postcondition: Returns the Character or ErrCharacterNotFound.
func (r *CharacterRepository) GetByID(ctx context.Context, id int64) (*character.Character, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+characterColumns+` FROM characters WHERE id = $1`, id)
	c, err := scanCharacter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCharacterNotFound
		}
		return nil, fmt.Errorf("querying character: %w", err)
	}
	return c, nil
}

// NameExists reports whether any character, regardless of owner, already
// uses the given name.
func (r *CharacterRepository) NameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM characters WHERE name = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking character name: %w", err)
	}
	return exists, nil
}

// Delete removes a character only if it belongs to the given user. The
// ownership check is part of the statement, so a caller cannot distinguish
// "not found" from "not owned".
//
// Postcondition: Returns true if a row was deleted.
func (r *CharacterRepository) Delete(ctx context.Context, userID, charID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM characters WHERE id = $1 AND user_id = $2`,
		charID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("deleting character: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SavePosition persists a character's location after a session.
//
// Postcondition: Returns ErrCharacterNotFound if no row was updated.
func (r *CharacterRepository) SavePosition(ctx context.Context, id int64, x, y, mapID int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE characters SET x = $2, y = $3, map_id = $4, updated_at = NOW()
		WHERE id = $1`,
		id, x, y, mapID,
	)
	if err != nil {
		return fmt.Errorf("saving character position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCharacterNotFound
	}
	return nil
}

func scanCharacter(row pgx.Row) (*character.Character, error) {
	var c character.Character
	var appearance, gear []byte
	err := row.Scan(
		&c.ID, &c.UserID, &c.Name, &c.X, &c.Y, &c.MapID,
		&c.Stats.Level, &c.Stats.Exp, &c.Stats.HP, &c.Stats.MP,
		&c.Stats.Str, &c.Stats.Dex, &c.Stats.Agi, &c.Stats.Vit, &c.Stats.Int,
		&appearance, &gear, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(appearance, &c.Appearance); err != nil {
		return nil, fmt.Errorf("unmarshalling appearance: %w", err)
	}
	if err := json.Unmarshal(gear, &c.Gear); err != nil {
		return nil, fmt.Errorf("unmarshalling gear: %w", err)
	}
	return &c, nil
}
