package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/eeredondo/pqrsd/internal/models"
	appErrors "github.com/eeredondo/pqrsd/pkg/errors"
)

type mockAuthRepo struct {
	user    *models.User
	findErr error
}

func (m *mockAuthRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.user, nil
}

func newAuthService(repo *mockAuthRepo) *AuthService {
	return NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		Secret:     "secret",
		Expiration: time.Hour,
		Issuer:     "pqrsd-api",
	})
}

func staffUser(password string, active bool) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return &models.User{
		ID:           7,
		Username:     "revisor1",
		FullName:     "Revisor Uno",
		Email:        "revisor@example.com",
		PasswordHash: string(hash),
		Role:         models.RoleReviewer,
		Active:       active,
	}
}

func TestLoginSuccess(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{user: staffUser("password123", true)})

	res, err := svc.Login(context.Background(), models.LoginRequest{Username: "revisor1", Password: "password123"})
	require.NoError(t, err)

	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, int64(3600), res.ExpiresIn)
	assert.Equal(t, models.RoleReviewer, res.User.Role)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "Revisor Uno", claims.FullName)
	assert.Equal(t, models.RoleReviewer, claims.Role)
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{user: staffUser("password123", true)})

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "revisor1", Password: "nope"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginUnknownUser(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{findErr: sql.ErrNoRows})

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "ghost", Password: "password123"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{user: staffUser("password123", false)})

	_, err := svc.Login(context.Background(), models.LoginRequest{Username: "revisor1", Password: "password123"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc := newAuthService(&mockAuthRepo{})

	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	repo := &mockAuthRepo{user: staffUser("password123", true)}
	expired := NewAuthService(repo, validator.New(), zap.NewNop(), AuthConfig{
		Secret:     "secret",
		Expiration: time.Millisecond,
	})

	res, err := expired.Login(context.Background(), models.LoginRequest{Username: "revisor1", Password: "password123"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	_, err = expired.ValidateToken(res.AccessToken)
	require.Error(t, err)
}
