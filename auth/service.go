package auth

import (
	"context"
	"regexp"
	"time"
	"unicode/utf8"
)

// argon2id rejects nothing itself, but hashing attacker-sized inputs is a
// cheap way to burn server memory. 256 runes is far beyond any real password.
const maxPasswordRunes = 256

var usernameFormat = regexp.MustCompile("^[a-z0-9_]{3,20}$")

type service struct {
	masterRepo     MasterRepo
	passwordHasher PasswordHasher
	tokenManager   TokenManager
}

func NewService(masterRepo MasterRepo, passwordHasher PasswordHasher, tokenManager TokenManager) *service {
	return &service{masterRepo, passwordHasher, tokenManager}
}

func (as *service) Signup(ctx context.Context, username, password string) (string, error) {
	if !usernameFormat.MatchString(username) {
		return "", ErrInvalidUsernameFormat
	}

	if utf8.RuneCountInString(password) < 8 {
		return "", ErrWeakPassword
	}
	if utf8.RuneCountInString(password) > maxPasswordRunes {
		return "", ErrPasswordTooLong
	}

	passwordHash, err := as.passwordHasher.Hash(password)
	if err != nil {
		return "", err
	}

	id, err := as.masterRepo.CreateMaster(ctx, username, passwordHash)
	if err != nil {
		return "", err
	}

	return as.tokenManager.Generate(id, time.Now())
}

func (as *service) Login(ctx context.Context, username, password string) (string, error) {
	master, err := as.masterRepo.GetMasterByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	match, err := as.passwordHasher.Compare(master.PasswordHash, password)
	if err != nil {
		return "", err
	}
	if !match {
		return "", ErrIncorrectPassword
	}

	return as.tokenManager.Generate(master.Id, time.Now())
}

// VerifyToken returns the master id if the token is valid, else, it returns an error
func (as *service) VerifyToken(token string) (string, error) {
	return as.tokenManager.Verify(token)
}

func (as *service) GenerateToken(id string) (string, error) {
	return as.tokenManager.Generate(id, time.Now())
}
