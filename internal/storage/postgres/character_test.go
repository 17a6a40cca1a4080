package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmoor/gameserver/internal/game/character"
	"github.com/driftmoor/gameserver/internal/storage/postgres"
	"github.com/driftmoor/gameserver/internal/testutil"
)

func testCharacter(userID int64, name string) *character.Character {
	return character.New(userID, name, character.Appearance{Gender: "male", Hair: "short"})
}

func createTestUser(t *testing.T, repo *postgres.UserRepository, username string) postgres.User {
	t.Helper()
	u, err := repo.Create(context.Background(), username, username+"@example.com", "testpassword")
	require.NoError(t, err)
	return u
}

func TestCharacterRepository_CreateAndList(t *testing.T) {
	skipWithoutDocker(t)
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	ctx := context.Background()

	users := postgres.NewUserRepository(pc.RawPool)
	chars := postgres.NewCharacterRepository(pc.RawPool)
	u := createTestUser(t, users, "erin")

	created, err := chars.Create(ctx, testCharacter(u.ID, "ErinKnight"))
	require.NoError(t, err)
	assert.Positive(t, created.ID)
	assert.Equal(t, character.SpawnX, created.X)
	assert.Equal(t, character.SpawnY, created.Y)
	assert.Equal(t, character.SpawnMapID, created.MapID)
	assert.Equal(t, character.SpawnHP, created.Stats.HP)
	assert.Equal(t, character.Appearance{Gender: "male", Hair: "short"}, created.Appearance)
	assert.Equal(t, character.EmptyGear(), created.Gear)

	_, err = chars.Create(ctx, testCharacter(u.ID, "ErinMage"))
	require.NoError(t, err)

	list, err := chars.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ErinKnight", list[0].Name, "oldest first")
	assert.Equal(t, "ErinMage", list[1].Name)
}

func TestCharacterRepository_NameGloballyUnique(t *testing.T) {
	skipWithoutDocker(t)
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	ctx := context.Background()

	users := postgres.NewUserRepository(pc.RawPool)
	chars := postgres.NewCharacterRepository(pc.RawPool)
	a := createTestUser(t, users, "frank")
	b := createTestUser(t, users, "grace")

	_, err := chars.Create(ctx, testCharacter(a.ID, "Shadow"))
	require.NoError(t, err)

	// Same name under a different owner still conflicts.
	_, err = chars.Create(ctx, testCharacter(b.ID, "Shadow"))
	assert.ErrorIs(t, err, postgres.ErrNameTaken)

	exists, err := chars.NameExists(ctx, "Shadow")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = chars.NameExists(ctx, "Light")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCharacterRepository_DeleteEnforcesOwnership(t *testing.T) {
	skipWithoutDocker(t)
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	ctx := context.Background()

	users := postgres.NewUserRepository(pc.RawPool)
	chars := postgres.NewCharacterRepository(pc.RawPool)
	owner := createTestUser(t, users, "heidi")
	other := createTestUser(t, users, "ivan")

	c, err := chars.Create(ctx, testCharacter(owner.ID, "Keeper"))
	require.NoError(t, err)

	deleted, err := chars.Delete(ctx, other.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "non-owner must not delete")

	deleted, err = chars.Delete(ctx, owner.ID, c.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = chars.Delete(ctx, owner.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, deleted, "second delete is a no-op")
}

func TestCharacterRepository_SavePosition(t *testing.T) {
	skipWithoutDocker(t)
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	ctx := context.Background()

	users := postgres.NewUserRepository(pc.RawPool)
	chars := postgres.NewCharacterRepository(pc.RawPool)
	u := createTestUser(t, users, "judy")

	c, err := chars.Create(ctx, testCharacter(u.ID, "Walker"))
	require.NoError(t, err)

	require.NoError(t, chars.SavePosition(ctx, c.ID, 250, 175, 100002))

	got, err := chars.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 250, got.X)
	assert.Equal(t, 175, got.Y)
	assert.Equal(t, 100002, got.MapID)

	err = chars.SavePosition(ctx, c.ID+1000, 0, 0, 0)
	assert.ErrorIs(t, err, postgres.ErrCharacterNotFound)
}
