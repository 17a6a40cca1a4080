package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/driftmoor/gameserver/internal/channel"
	"github.com/driftmoor/gameserver/internal/game"
	"github.com/driftmoor/gameserver/internal/game/character"
	"github.com/driftmoor/gameserver/internal/protocol"
	"github.com/driftmoor/gameserver/internal/storage/postgres"
)

// UserStore is the account persistence boundary, satisfied by
// postgres.UserRepository.
type UserStore interface {
	Create(ctx context.Context, username, email, password string) (postgres.User, error)
	Authenticate(ctx context.Context, username, password string) (postgres.User, error)
}

// CharacterStore is the character persistence boundary, satisfied by
// postgres.CharacterRepository.
type CharacterStore interface {
	Create(ctx context.Context, c *character.Character) (*character.Character, error)
	GetByID(ctx context.Context, id int64) (*character.Character, error)
	ListByUser(ctx context.Context, userID int64) ([]*character.Character, error)
	Delete(ctx context.Context, userID, charID int64) (bool, error)
	NameExists(ctx context.Context, name string) (bool, error)
	SavePosition(ctx context.Context, id int64, x, y, mapID int) error
}

const minPasswordLength = 8

var (
	usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)
	emailRE    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Handler dispatches decoded envelopes to action handlers. One Handler
// instance serves every connection; all per-connection state lives on the
// Conn itself.
type Handler struct {
	users    UserStore
	chars    CharacterStore
	registry *channel.Registry
	world    *game.State
	logger   *zap.Logger
}

// NewHandler creates a Handler over the given stores and shared structures.
//
// Precondition: all arguments must be non-nil.
func NewHandler(users UserStore, chars CharacterStore, registry *channel.Registry, world *game.State, logger *zap.Logger) *Handler {
	return &Handler{
		users:    users,
		chars:    chars,
		registry: registry,
		world:    world,
		logger:   logger,
	}
}

// Dispatch routes one envelope to its action handler. Unknown actions get an
// error response; the connection stays open either way.
func (h *Handler) Dispatch(ctx context.Context, c *Conn, env protocol.Envelope) {
	var err error
	switch env.Action {
	case "signup":
		err = h.handleSignup(ctx, c, env.Data)
	case "login":
		err = h.handleLogin(ctx, c, env.Data)
	case "create_character":
		err = h.handleCreateCharacter(ctx, c, env.Data)
	case "select_character":
		err = h.handleSelectCharacter(ctx, c, env.Data)
	case "delete_character":
		err = h.handleDeleteCharacter(ctx, c, env.Data)
	case "check_name":
		err = h.handleCheckName(ctx, c, env.Data)
	default:
		err = sendError(c, fmt.Sprintf("Unknown action: %s", env.Action))
	}

	if err != nil {
		h.logger.Debug("dispatch send failed",
			zap.String("conn_id", c.ID()),
			zap.String("action", env.Action),
			zap.Error(err),
		)
	}
}

// Release unregisters a disconnecting connection from the channel registry
// and the world state, announcing the departure to the rest of its channel.
// Called exactly once per connection, from Conn.Disconnect.
func (h *Handler) Release(c *Conn) {
	ch := c.Channel()
	h.registry.Remove(c)

	if p, ok := h.world.GetPlayer(c.ID()); ok {
		if err := h.world.RemovePlayer(c.ID()); err != nil {
			h.logger.Warn("removing player from world",
				zap.String("conn_id", c.ID()),
				zap.Error(err),
			)
		}
		if p.CharacterID != 0 {
			// The connection's context is already gone by the time Release
			// runs, so the save gets its own short deadline.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.chars.SavePosition(ctx, p.CharacterID, p.X, p.Y, p.MapID); err != nil {
				h.logger.Warn("saving character position",
					zap.Int64("character_id", p.CharacterID),
					zap.Error(err),
				)
			}
		}
		if ch != nil {
			ch.Broadcast(protocol.Envelope{
				Action: "player_left",
				Data:   map[string]any{"uid": p.UID, "username": p.Username},
			}, nil)
		}
	}
}

func (h *Handler) handleSignup(ctx context.Context, c *Conn, data map[string]any) error {
	username := stringField(data, "username")
	email := stringField(data, "email")
	password := stringField(data, "password")
	confirm := stringField(data, "password_confirm")

	// All shape validation happens before the store is touched.
	reason := ""
	switch {
	case username == "" || email == "" || password == "" || confirm == "":
		reason = "Missing required fields"
	case password != confirm:
		reason = "Passwords do not match"
	case len(password) < minPasswordLength:
		reason = fmt.Sprintf("Password must be at least %d characters", minPasswordLength)
	case !usernameRE.MatchString(username):
		reason = "Invalid username: 3-20 characters, letters, numbers, underscore or hyphen"
	case !emailRE.MatchString(email):
		reason = "Invalid email address"
	}
	if reason != "" {
		return c.Send(protocol.Envelope{
			Action: "signup_failed",
			Data:   map[string]any{"reason": reason},
		})
	}

	u, err := h.users.Create(ctx, username, email, password)
	if err != nil {
		if errors.Is(err, postgres.ErrUserExists) {
			return c.Send(protocol.Envelope{
				Action: "signup_failed",
				Data:   map[string]any{"reason": "Username or email already in use"},
			})
		}
		h.logger.Error("creating user",
			zap.String("username", username),
			zap.Error(err),
		)
		return c.Send(protocol.Envelope{
			Action: "signup_failed",
			Data:   map[string]any{"reason": "Internal error"},
		})
	}

	h.logger.Info("user registered",
		zap.Int64("user_id", u.ID),
		zap.String("username", u.Username),
	)
	return c.Send(protocol.Envelope{
		Action: "signup_ok",
		Data:   map[string]any{"user_id": u.ID, "username": u.Username},
	})
}

func (h *Handler) handleLogin(ctx context.Context, c *Conn, data map[string]any) error {
	if c.State() == StateActive {
		return sendError(c, "Already logged in")
	}

	username := stringField(data, "username")
	password := stringField(data, "password")
	if username == "" || password == "" {
		return c.Send(protocol.Envelope{
			Action: "login_failed",
			Data:   map[string]any{"reason": "Missing username or password"},
		})
	}

	u, err := h.users.Authenticate(ctx, username, password)
	if err != nil {
		reason := "Internal error"
		switch {
		case errors.Is(err, postgres.ErrUserNotFound):
			reason = "User not found"
		case errors.Is(err, postgres.ErrInvalidCredentials):
			reason = "Invalid password"
		default:
			h.logger.Error("authenticating user",
				zap.String("username", username),
				zap.Error(err),
			)
		}
		return c.Send(protocol.Envelope{
			Action: "login_failed",
			Data:   map[string]any{"reason": reason},
		})
	}

	c.SetAuthenticated(u.ID, u.Username)

	ch, err := h.registry.Assign(c)
	if err != nil {
		h.logger.Error("assigning connection to channel",
			zap.String("conn_id", c.ID()),
			zap.Error(err),
		)
		return sendError(c, "Internal error")
	}

	player := &game.Player{
		UID:      c.ID(),
		UserID:   u.ID,
		Username: u.Username,
		X:        character.SpawnX,
		Y:        character.SpawnY,
		MapID:    character.SpawnMapID,
		HP:       character.SpawnHP,
		MaxHP:    character.SpawnHP,
		MP:       character.SpawnMP,
		MaxMP:    character.SpawnMP,
	}
	if err := h.world.AddPlayer(player); err != nil {
		h.logger.Warn("adding player to world",
			zap.String("conn_id", c.ID()),
			zap.Error(err),
		)
	}
	if _, err := h.world.MoveToChannel(c.ID(), ch.ID()); err != nil {
		h.logger.Warn("moving player to channel",
			zap.String("conn_id", c.ID()),
			zap.Int64("channel_id", ch.ID()),
			zap.Error(err),
		)
	}

	ch.Broadcast(protocol.Envelope{
		Action: "player_joined",
		Data:   map[string]any{"uid": c.ID(), "username": u.Username},
	}, c)

	h.logger.Info("user logged in",
		zap.Int64("user_id", u.ID),
		zap.String("username", u.Username),
		zap.Int64("channel_id", ch.ID()),
	)
	return h.sendCharacterList(ctx, c, u)
}

func (h *Handler) handleCreateCharacter(ctx context.Context, c *Conn, data map[string]any) error {
	if c.State() != StateActive {
		return sendError(c, "Not logged in")
	}
	userID, _ := c.User()

	name := stringField(data, "name")
	if !character.ValidName(name) {
		return sendError(c, character.NameReasonInvalid)
	}

	appearance := character.Appearance{
		Gender: stringField(data, "gender"),
		Hair:   stringField(data, "hair"),
	}

	created, err := h.chars.Create(ctx, character.New(userID, name, appearance))
	if err != nil {
		if errors.Is(err, postgres.ErrNameTaken) {
			return sendError(c, character.NameReasonTaken)
		}
		h.logger.Error("creating character",
			zap.Int64("user_id", userID),
			zap.String("name", name),
			zap.Error(err),
		)
		return sendError(c, "Internal error")
	}

	h.logger.Info("character created",
		zap.Int64("user_id", userID),
		zap.Int64("character_id", created.ID),
		zap.String("name", created.Name),
	)
	if err := c.Send(protocol.Envelope{
		Action: "character_created",
		Data:   map[string]any{"character": created.Payload()},
	}); err != nil {
		return err
	}
	return h.sendCharacterListByID(ctx, c, userID)
}

func (h *Handler) handleSelectCharacter(ctx context.Context, c *Conn, data map[string]any) error {
	if c.State() != StateActive {
		return sendError(c, "Not logged in")
	}
	userID, _ := c.User()

	charID, ok := int64Field(data, "char_id")
	if !ok {
		return sendError(c, "Missing char_id")
	}

	char, err := h.chars.GetByID(ctx, charID)
	if err != nil {
		if errors.Is(err, postgres.ErrCharacterNotFound) {
			return sendError(c, "Character not found or not owned by user")
		}
		h.logger.Error("loading character",
			zap.Int64("user_id", userID),
			zap.Int64("character_id", charID),
			zap.Error(err),
		)
		return sendError(c, "Internal error")
	}
	if char.UserID != userID {
		// Same reason as not-found: existence is not leaked to non-owners.
		return sendError(c, "Character not found or not owned by user")
	}

	if err := h.world.UpdatePlayer(c.ID(), func(p *game.Player) {
		p.CharacterID = char.ID
		p.Name = char.Name
		p.X, p.Y, p.MapID = char.X, char.Y, char.MapID
		p.HP, p.MaxHP = char.Stats.HP, char.Stats.HP
		p.MP, p.MaxMP = char.Stats.MP, char.Stats.MP
	}); err != nil {
		h.logger.Warn("updating player in world",
			zap.String("conn_id", c.ID()),
			zap.Error(err),
		)
		return sendError(c, "Internal error")
	}

	h.logger.Info("character selected",
		zap.Int64("user_id", userID),
		zap.Int64("character_id", char.ID),
		zap.String("name", char.Name),
	)
	return c.Send(protocol.Envelope{
		Action: "select_character_ok",
		Data:   map[string]any{"character": char.Payload()},
	})
}

func (h *Handler) handleDeleteCharacter(ctx context.Context, c *Conn, data map[string]any) error {
	if c.State() != StateActive {
		return sendError(c, "Not logged in")
	}
	userID, _ := c.User()

	charID, ok := int64Field(data, "char_id")
	if !ok {
		return sendError(c, "Missing char_id")
	}

	deleted, err := h.chars.Delete(ctx, userID, charID)
	if err != nil {
		h.logger.Error("deleting character",
			zap.Int64("user_id", userID),
			zap.Int64("character_id", charID),
			zap.Error(err),
		)
		return sendError(c, "Internal error")
	}
	if !deleted {
		// Existence is not leaked to non-owners: not-found and not-owned
		// share one reason.
		return sendError(c, "Character not found or not owned by user")
	}

	h.logger.Info("character deleted",
		zap.Int64("user_id", userID),
		zap.Int64("character_id", charID),
	)
	if err := c.Send(protocol.Envelope{
		Action: "delete_character_ok",
		Data:   map[string]any{"char_id": charID, "user_id": userID},
	}); err != nil {
		return err
	}
	return h.sendCharacterListByID(ctx, c, userID)
}

func (h *Handler) handleCheckName(ctx context.Context, c *Conn, data map[string]any) error {
	name := stringField(data, "name")

	ok := character.ValidName(name)
	var reason any
	if !ok {
		reason = character.NameReasonInvalid
	} else {
		taken, err := h.chars.NameExists(ctx, name)
		if err != nil {
			h.logger.Error("checking character name",
				zap.String("name", name),
				zap.Error(err),
			)
			return sendError(c, "Internal error")
		}
		if taken {
			ok = false
			reason = character.NameReasonTaken
		}
	}

	return c.Send(protocol.Envelope{
		Action: "name_valid",
		Data:   map[string]any{"ok": ok, "reason": reason},
	})
}

func (h *Handler) sendCharacterList(ctx context.Context, c *Conn, u postgres.User) error {
	list, err := h.chars.ListByUser(ctx, u.ID)
	if err != nil {
		h.logger.Error("listing characters",
			zap.Int64("user_id", u.ID),
			zap.Error(err),
		)
		return sendError(c, "Internal error")
	}
	return c.Send(protocol.Envelope{
		Action: "character_list",
		Data: map[string]any{
			"user":       map[string]any{"id": u.ID, "username": u.Username},
			"characters": character.Payloads(list),
		},
	})
}

func (h *Handler) sendCharacterListByID(ctx context.Context, c *Conn, userID int64) error {
	_, username := c.User()
	return h.sendCharacterList(ctx, c, postgres.User{ID: userID, Username: username})
}

// sendError writes a flat status-error body with no action tag.
func sendError(c *Conn, message string) error {
	return c.Send(protocol.Envelope{
		Data: map[string]any{"status": "error", "message": message},
	})
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// int64Field reads a JSON number field, reporting whether it was present.
func int64Field(data map[string]any, key string) (int64, bool) {
	switch v := data[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}
