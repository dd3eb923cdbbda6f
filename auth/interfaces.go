package auth

import (
	"context"
	"time"

	"github.com/Web-Am/buzzer/domain"
)

type MasterRepo interface {
	CreateMaster(ctx context.Context, username string, passwordHash string) (string, error)
	GetMasterByUsername(ctx context.Context, username string) (domain.Master, error)
	GetMasterById(ctx context.Context, id string) (domain.Master, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) (bool, error)
}

type TokenManager interface {
	Generate(id string, now time.Time) (string, error)
	Verify(token string) (string, error)
}

type AuthService interface {
	Signup(ctx context.Context, username, password string) (string, error)
	Login(ctx context.Context, username, password string) (string, error)
	VerifyToken(token string) (string, error)
	GenerateToken(id string) (string, error)
}
