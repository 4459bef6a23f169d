package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/users"
	"github.com/angelmondragon/storefront-backend/internal/verification"
	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/security"
)

const (
	invalidCredentialsMessage = "invalid credentials"
	tokenTypeBearer           = "Bearer"
)

// Service defines the behavior needed by the auth controller.
type Service interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Register(ctx context.Context, req RegisterRequest) (*users.UserDTO, error)
}

type userRepository interface {
	Create(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

type verificationGate interface {
	Claim(ctx context.Context, action enums.VerificationAction, token string) (verification.Claim, error)
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	UserRepo  userRepository
	Gate      verificationGate
	Hasher    *security.Hasher
	JWTConfig config.JWTConfig
	Logger    *logger.Logger
}

type service struct {
	users  userRepository
	gate   verificationGate
	hasher *security.Hasher
	jwtCfg config.JWTConfig
	logg   *logger.Logger
	now    func() time.Time
}

// NewService constructs the account service with the provided dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.UserRepo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("verification gate is required")
	}
	if params.Hasher == nil {
		return nil, fmt.Errorf("password hasher is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		users:  params.UserRepo,
		gate:   params.Gate,
		hasher: params.Hasher,
		jwtCfg: params.JWTConfig,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// Login authenticates a verified request. The verification token is spent
// by the attempt whether or not the credentials match.
func (s *service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	claim, err := s.gate.Claim(ctx, enums.VerificationActionLogin, req.VerificationToken)
	if err != nil {
		return nil, err
	}
	defer s.commit(ctx, claim)

	user, err := s.authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update last login")
	}
	user.LastLoginAt = &now

	accessToken, expiresAt, err := pkgAuth.MintAccessToken(s.jwtCfg, now, user.ID, user.Email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}

	s.logg.Info(s.logg.WithUserID(ctx, user.ID.String()), "user logged in")
	return &LoginResponse{
		AccessToken: accessToken,
		TokenType:   tokenTypeBearer,
		ExpiresAt:   expiresAt,
		User:        users.FromModel(user),
	}, nil
}

func (s *service) authenticate(ctx context.Context, email, password string) (*models.User, error) {
	input := strings.TrimSpace(email)
	if input == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	user, err := s.users.FindByEmail(ctx, input)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}

	valid, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid || !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, password)
	}
	return user, nil
}

// rehash upgrades a stored hash to the current parameters. Failure only
// delays the upgrade to the next login.
func (s *service) rehash(ctx context.Context, user *models.User, password string) {
	hash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"user_id": user.ID.String(),
			"error":   err.Error(),
		}), "password rehash failed")
		return
	}
	user.PasswordHash = hash
}

func (s *service) commit(ctx context.Context, claim verification.Claim) {
	if err := claim.Commit(ctx); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "commit verification claim")
	}
}
