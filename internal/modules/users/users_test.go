package users

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/HerbHall/servicedesk/internal/testutil"
	"github.com/HerbHall/servicedesk/pkg/plugin"
)

func newDirectory(t *testing.T, bus plugin.EventBus) *Directory {
	t.Helper()
	dir, err := NewDirectory(context.Background(), testutil.NewStore(t), bus, testutil.Logger(), bcrypt.MinCost)
	require.NoError(t, err)
	return dir
}

func TestCreateAndGet(t *testing.T) {
	bus := testutil.NewMockBus()
	dir := newDirectory(t, bus)
	ctx := context.Background()

	u, err := dir.Create(ctx, NewUser{Username: "alice", Email: "alice@example.com", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, RoleClient, u.Role)
	assert.NotEqual(t, "s3cret", u.PasswordHash)

	got, err := dir.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.False(t, got.Disabled)

	byName, err := dir.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	events := bus.Events()
	require.Len(t, events, 1)
	assert.Equal(t, TopicUserCreated, events[0].Topic)
	assert.Equal(t, CreatedEvent{UserID: u.ID, Username: "alice", Email: "alice@example.com"}, events[0].Payload)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	dir := newDirectory(t, nil)
	ctx := context.Background()

	_, err := dir.Create(ctx, NewUser{Username: "bob"})
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = dir.Create(ctx, NewUser{Username: "bob", Email: "b@example.com", Password: "x", Role: "root"})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestCreateDuplicateUsername(t *testing.T) {
	dir := newDirectory(t, nil)
	ctx := context.Background()

	_, err := dir.Create(ctx, NewUser{Username: "carol", Email: "c@example.com", Password: "pw"})
	require.NoError(t, err)
	_, err = dir.Create(ctx, NewUser{Username: "carol", Email: "c2@example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetNotFound(t *testing.T) {
	dir := newDirectory(t, nil)
	_, err := dir.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, dir.SetDisabled(context.Background(), "nope", true), ErrNotFound)
}

func TestListOrdered(t *testing.T) {
	dir := newDirectory(t, nil)
	ctx := context.Background()
	for _, name := range []string{"dave", "erin"} {
		_, err := dir.Create(ctx, NewUser{Username: name, Email: name + "@example.com", Password: "pw", Role: RoleEmployee})
		require.NoError(t, err)
	}

	list, err := dir.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "dave", list[0].Username)
	assert.Equal(t, RoleEmployee, list[1].Role)
}

func TestAuthenticate(t *testing.T) {
	dir := newDirectory(t, nil)
	ctx := context.Background()
	u, err := dir.Create(ctx, NewUser{Username: "frank", Email: "f@example.com", Password: "correct horse"})
	require.NoError(t, err)

	got, err := dir.Authenticate(ctx, "frank", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = dir.Authenticate(ctx, "frank", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = dir.Authenticate(ctx, "nobody", "x")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, dir.SetDisabled(ctx, u.ID, true))
	_, err = dir.Authenticate(ctx, "frank", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPluginValidateConfig(t *testing.T) {
	p := New()
	assert.True(t, p.ValidateConfig(plugin.Settings{"dsn": ":memory:", "bcrypt_cost": 10}).IsValid)

	res := p.ValidateConfig(plugin.Settings{"dsn": 5, "bcrypt_cost": 99})
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors, "dsn must be a string")
	assert.Contains(t, res.Errors, "bcrypt_cost must be between 4 and 31")

	// Costs decoded from JSON arrive as float64.
	res = p.ValidateConfig(plugin.Settings{"bcrypt_cost": 40.0})
	assert.Equal(t, []string{"bcrypt_cost must be between 4 and 31"}, res.Errors)
	assert.True(t, p.ValidateConfig(plugin.Settings{"bcrypt_cost": 12.0}).IsValid)
}

func TestPluginCreateAndStop(t *testing.T) {
	p := New()
	ctx := context.Background()

	m, err := p.Create(ctx, plugin.Dependencies{
		Settings: plugin.Settings{"bcrypt_cost": bcrypt.MinCost},
		Logger:   testutil.Logger(),
		Bus:      testutil.NewMockBus(),
	})
	require.NoError(t, err)

	dir, ok := m.(*Directory)
	require.True(t, ok)
	assert.Equal(t, plugin.StatusHealthy, dir.Health(ctx).Status)

	require.NoError(t, dir.Stop(ctx))
	assert.Equal(t, plugin.StatusUnhealthy, dir.Health(ctx).Status)
}
