package auth

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estrateo/estrateo/internal/app/domain/user"
	"github.com/estrateo/estrateo/internal/app/storage/memory"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/pkg/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	tokens, err := NewTokens(testSecret, time.Hour, "")
	require.NoError(t, err)
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	store := memory.New()
	return New(store, store, tokens, log)
}

// racingUsers reports the email as free but loses the insert, like a
// concurrent registration with the same address.
type racingUsers struct {
	*memory.Store
}

func (racingUsers) CreateUser(context.Context, user.User) (user.User, error) {
	return user.User{}, apperr.Conflict("duplicate record")
}

func TestRegisterRemovesRestaurantWhenOwnerFails(t *testing.T) {
	tokens, err := NewTokens(testSecret, time.Hour, "")
	require.NoError(t, err)
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	store := memory.New()
	svc := New(store, racingUsers{store}, tokens, log)
	ctx := context.Background()

	_, err = svc.Register(ctx, RegisterInput{RestaurantName: "Casa Pepe", Email: "pepe@casa.test", Password: "correct-horse"})
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "owner insert: %v", err)

	left, err := store.ListRestaurants(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{
		RestaurantName: "Casa Pepe",
		Name:           "Pepe",
		Email:          "Pepe@Casa.test",
		Password:       "correct-horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "pepe@casa.test", session.User.Email)
	assert.Equal(t, user.RoleOwner, session.User.Role)
	assert.Equal(t, "EUR", session.Restaurant.Currency)
	assert.NotEmpty(t, session.Token)

	claims, err := svc.Tokens().Parse(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.Restaurant.ID, claims.RestaurantID)

	_, err = svc.Register(ctx, RegisterInput{RestaurantName: "Other", Email: "pepe@casa.test", Password: "correct-horse"})
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "duplicate email: %v", err)

	logged, err := svc.Login(ctx, " PEPE@casa.test ", "correct-horse")
	require.NoError(t, err)
	require.NotNil(t, logged.User.LastLoginAt)

	_, err = svc.Login(ctx, "pepe@casa.test", "wrong-password")
	assert.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
	_, err = svc.Login(ctx, "nobody@casa.test", "whatever1")
	assert.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(t)
	cases := []RegisterInput{
		{Email: "a@b.test", Password: "longenough"},
		{RestaurantName: "X", Email: "not-an-email", Password: "longenough"},
		{RestaurantName: "X", Email: "a@b.test", Password: "short"},
		{RestaurantName: "X", Email: "a@b.test", Password: "longenough", Currency: "EURO"},
		{RestaurantName: "X", Email: "a@b.test", Password: "longenough", Timezone: "Mars/Olympus"},
	}
	for i, in := range cases {
		_, err := svc.Register(context.Background(), in)
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "case %d: %v", i, err)
	}
}

func TestInactiveUserCannotLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	session, err := svc.Register(ctx, RegisterInput{RestaurantName: "Casa", Email: "owner@casa.test", Password: "password1"})
	require.NoError(t, err)

	staff, err := svc.CreateUser(ctx, session.Restaurant.ID, UserInput{Email: "staff@casa.test", Password: "password2"})
	require.NoError(t, err)
	assert.Equal(t, user.RoleStaff, staff.Role)

	inactive := false
	_, err = svc.UpdateUser(ctx, session.Restaurant.ID, staff.ID, UserUpdate{Active: &inactive})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "staff@casa.test", "password2")
	assert.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))

	claims := &Claims{UserID: staff.ID, RestaurantID: session.Restaurant.ID, Role: user.RoleStaff}
	_, err = svc.Refresh(ctx, claims)
	assert.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))
}

func TestLastOwnerIsProtected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	session, err := svc.Register(ctx, RegisterInput{RestaurantName: "Casa", Email: "owner@casa.test", Password: "password1"})
	require.NoError(t, err)
	rid, ownerID := session.Restaurant.ID, session.User.ID

	manager := user.RoleManager
	_, err = svc.UpdateUser(ctx, rid, ownerID, UserUpdate{Role: &manager})
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "demote last owner: %v", err)

	inactive := false
	_, err = svc.UpdateUser(ctx, rid, ownerID, UserUpdate{Active: &inactive})
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "deactivate last owner: %v", err)

	second, err := svc.CreateUser(ctx, rid, UserInput{Email: "co@casa.test", Password: "password2", Role: user.RoleOwner})
	require.NoError(t, err)

	updated, err := svc.UpdateUser(ctx, rid, ownerID, UserUpdate{Role: &manager})
	require.NoError(t, err)
	assert.Equal(t, user.RoleManager, updated.Role)

	_, err = svc.UpdateUser(ctx, rid, second.ID, UserUpdate{Active: &inactive})
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict))

	_, err = svc.UpdateUser(ctx, "other-restaurant", second.ID, UserUpdate{Active: &inactive})
	assert.True(t, apperr.IsNotFound(err))
}

func TestChangePassword(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	session, err := svc.Register(ctx, RegisterInput{RestaurantName: "Casa", Email: "owner@casa.test", Password: "password1"})
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, session.User.ID, "wrong-one", "password2")
	assert.True(t, apperr.IsCode(err, apperr.CodeUnauthorized))

	require.NoError(t, svc.ChangePassword(ctx, session.User.ID, "password1", "password2"))
	_, err = svc.Login(ctx, "owner@casa.test", "password2")
	require.NoError(t, err)
}
