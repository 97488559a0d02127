package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/stemsi/exstem-lockdown/internal/model"
	"github.com/stemsi/exstem-lockdown/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordNotSet is returned when the exam has no hash for the requested credential.
var ErrPasswordNotSet = errors.New("password is not set")

// Hasher is the opaque hash/verify collaborator.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hash string) bool
}

// BcryptHasher hashes with bcrypt at the configured cost.
type BcryptHasher struct {
	Cost int
}

// Hash hashes a password with the configured bcrypt cost.
func (h BcryptHasher) Hash(plaintext string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	return string(hash), err
}

// Verify compares a plaintext password against a bcrypt hash.
func (h BcryptHasher) Verify(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// PasswordSource reads a stored credential hash. "" means unset.
type PasswordSource interface {
	FetchPasswordHash(ctx context.Context, examID int64, kind model.PasswordKind) (string, error)
}

// BundlePasswords serves the hashes carried inside a transferred bundle.
type BundlePasswords struct {
	Exam *model.Exam
}

func (b BundlePasswords) FetchPasswordHash(_ context.Context, examID int64, kind model.PasswordKind) (string, error) {
	if b.Exam == nil || b.Exam.ID != examID {
		return "", fmt.Errorf("exam %d: %w", examID, repository.ErrNotFound)
	}
	return b.Exam.PasswordHash(kind), nil
}

// CredentialService verifies entry and exit passwords against stored hashes.
type CredentialService struct {
	src    PasswordSource
	hasher Hasher
}

// NewCredentialService creates a new CredentialService.
func NewCredentialService(src PasswordSource, hasher Hasher) *CredentialService {
	return &CredentialService{src: src, hasher: hasher}
}

// Verify checks candidate against the exam's credential of the given kind.
// A mismatch is (false, nil); an unset hash is ErrPasswordNotSet; a read
// failure is returned wrapped.
func (s *CredentialService) Verify(ctx context.Context, examID int64, kind model.PasswordKind, candidate string) (bool, error) {
	hash, err := s.src.FetchPasswordHash(ctx, examID, kind)
	if err != nil {
		return false, fmt.Errorf("fetch %s password: %w", kind, err)
	}
	if hash == "" {
		return false, fmt.Errorf("exam %d %s %w", examID, kind, ErrPasswordNotSet)
	}
	return s.hasher.Verify(candidate, hash), nil
}

// VerifyEntry checks the entry password.
func (s *CredentialService) VerifyEntry(ctx context.Context, examID int64, candidate string) (bool, error) {
	return s.Verify(ctx, examID, model.PasswordEntry, candidate)
}

// VerifyExit checks the exit password.
func (s *CredentialService) VerifyExit(ctx context.Context, examID int64, candidate string) (bool, error) {
	return s.Verify(ctx, examID, model.PasswordExit, candidate)
}
