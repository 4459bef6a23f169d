package verification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const verificationRequiredMessage = "complete the verification"

// Challenge is the client-visible view of a challenge. Once verified, ID is
// also the verification token presented to gated endpoints.
type Challenge struct {
	ID        string                   `json:"challenge_id"`
	Action    enums.VerificationAction `json:"action"`
	State     enums.VerificationState  `json:"state"`
	SiteKey   string                   `json:"site_key,omitempty"`
	ExpiresAt time.Time                `json:"expires_at"`
}

// ValidateInput is a solved challenge submitted for a specific action.
type ValidateInput struct {
	ChallengeID string
	Action      enums.VerificationAction
	Response    string
	RemoteIP    string
}

// Claim is an exclusive hold on a verified token. Exactly one of Commit or
// Release takes effect; later calls are no-ops.
type Claim interface {
	Token() string
	Commit(ctx context.Context) error
	Release(ctx context.Context) error
}

// Service gates state-changing requests behind human verification.
type Service interface {
	IssueChallenge(ctx context.Context, action enums.VerificationAction) (*Challenge, error)
	Validate(ctx context.Context, input ValidateInput) (*Challenge, error)
	Claim(ctx context.Context, action enums.VerificationAction, token string) (Claim, error)
	State(ctx context.Context, challengeID string) (enums.VerificationState, error)
}

type service struct {
	store        Store
	provider     Provider
	challengeTTL time.Duration
	verifiedTTL  time.Duration
	metrics      *metrics.VerificationMetrics
	logg         *logger.Logger
	now          func() time.Time
}

// NewService wires the gate. Metrics and logger may be nil.
func NewService(store Store, provider Provider, cfg config.VerificationConfig, m *metrics.VerificationMetrics, logg *logger.Logger) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("verification store required")
	}
	if provider == nil {
		return nil, fmt.Errorf("verification provider required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	challengeTTL := cfg.ChallengeTTL
	if challengeTTL <= 0 {
		challengeTTL = 10 * time.Minute
	}
	verifiedTTL := cfg.VerifiedTTL
	if verifiedTTL <= 0 {
		verifiedTTL = 2 * time.Minute
	}
	return &service{
		store:        store,
		provider:     provider,
		challengeTTL: challengeTTL,
		verifiedTTL:  verifiedTTL,
		metrics:      m,
		logg:         logg,
		now:          time.Now,
	}, nil
}

func (s *service) IssueChallenge(ctx context.Context, action enums.VerificationAction) (*Challenge, error) {
	if !action.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown verification action")
	}

	params, err := s.provider.IssueChallenge(ctx, action)
	if err != nil {
		return nil, dependencyError(err, "issue verification challenge")
	}

	now := s.now().UTC()
	rec := Record{
		ID:        uuid.NewString(),
		Action:    action,
		State:     enums.VerificationStatePending,
		CreatedAt: now,
	}
	if err := s.store.Create(ctx, rec, s.challengeTTL); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store verification challenge")
	}
	s.metrics.Observe(action.String(), "issued")

	return &Challenge{
		ID:        rec.ID,
		Action:    action,
		State:     rec.State,
		SiteKey:   params.SiteKey,
		ExpiresAt: now.Add(s.challengeTTL),
	}, nil
}

func (s *service) Validate(ctx context.Context, input ValidateInput) (*Challenge, error) {
	id, ok := normalizeToken(input.ChallengeID)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "challenge_id is invalid")
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load verification challenge")
	}
	if rec == nil || rec.State != enums.VerificationStatePending {
		s.metrics.Observe(input.Action.String(), "denied")
		return nil, pkgerrors.New(pkgerrors.CodeVerificationRequired, verificationRequiredMessage)
	}

	result, err := s.provider.Validate(ctx, ProviderRequest{
		Response: input.Response,
		RemoteIP: input.RemoteIP,
	})
	if err != nil {
		s.metrics.Observe(rec.Action.String(), "provider_error")
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"challenge_id": id,
			"action":       rec.Action,
			"error":        err.Error(),
		}), "verification provider unavailable")
		return nil, dependencyError(err, "verification provider unavailable")
	}

	accepted := result.Accepted &&
		input.Action == rec.Action &&
		(result.Action == "" || result.Action == rec.Action.String())

	if !accepted {
		outcome, err := s.store.Transition(ctx, id, rec.Action, enums.VerificationStatePending, enums.VerificationStateRejected, 0)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject verification challenge")
		}
		if outcome != TransitionApplied {
			s.metrics.Observe(rec.Action.String(), "denied")
			return nil, pkgerrors.New(pkgerrors.CodeVerificationRequired, verificationRequiredMessage)
		}
		s.metrics.Observe(rec.Action.String(), "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeVerificationRejected, "verification was not accepted").
			WithDetails(map[string]any{"reasons": result.Reasons})
	}

	outcome, err := s.store.Transition(ctx, id, rec.Action, enums.VerificationStatePending, enums.VerificationStateVerified, s.verifiedTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify challenge")
	}
	if outcome != TransitionApplied {
		s.metrics.Observe(rec.Action.String(), "denied")
		return nil, pkgerrors.New(pkgerrors.CodeVerificationRequired, verificationRequiredMessage)
	}
	s.metrics.Observe(rec.Action.String(), "verified")

	return &Challenge{
		ID:        id,
		Action:    rec.Action,
		State:     enums.VerificationStateVerified,
		ExpiresAt: s.now().UTC().Add(s.verifiedTTL),
	}, nil
}

func (s *service) Claim(ctx context.Context, action enums.VerificationAction, token string) (Claim, error) {
	id, ok := normalizeToken(token)
	if !ok || !action.IsValid() {
		s.metrics.Observe(action.String(), "denied")
		return nil, pkgerrors.New(pkgerrors.CodeVerificationRequired, verificationRequiredMessage)
	}

	outcome, err := s.store.Transition(ctx, id, action, enums.VerificationStateVerified, enums.VerificationStateClaimed, 0)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim verification token")
	}
	if outcome != TransitionApplied {
		s.metrics.Observe(action.String(), "denied")
		return nil, pkgerrors.New(pkgerrors.CodeVerificationRequired, verificationRequiredMessage)
	}
	s.metrics.Observe(action.String(), "claimed")

	return &claim{svc: s, id: id, action: action}, nil
}

// State reports the current state; unknown or expired challenges are unverified.
func (s *service) State(ctx context.Context, challengeID string) (enums.VerificationState, error) {
	id, ok := normalizeToken(challengeID)
	if !ok {
		return enums.VerificationStateUnverified, nil
	}
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load verification challenge")
	}
	if rec == nil {
		return enums.VerificationStateUnverified, nil
	}
	return rec.State, nil
}

type claim struct {
	svc    *service
	id     string
	action enums.VerificationAction
	once   sync.Once
}

func (c *claim) Token() string {
	return c.id
}

// Commit consumes the token; the next attempt starts from unverified.
func (c *claim) Commit(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		var outcome TransitionResult
		outcome, err = c.svc.store.Consume(ctx, c.id, c.action, enums.VerificationStateClaimed)
		if err == nil && outcome != TransitionApplied {
			err = fmt.Errorf("verification claim %s no longer held", c.id)
		}
		if err != nil {
			c.svc.logg.Warn(c.svc.logg.WithFields(ctx, map[string]any{
				"challenge_id": c.id,
				"action":       c.action,
				"error":        err.Error(),
			}), "commit verification claim failed")
			return
		}
		c.svc.metrics.Observe(c.action.String(), "consumed")
	})
	return err
}

// Release hands the token back as verified so the same proof can be retried.
func (c *claim) Release(ctx context.Context) error {
	var err error
	c.once.Do(func() {
		var outcome TransitionResult
		outcome, err = c.svc.store.Transition(ctx, c.id, c.action, enums.VerificationStateClaimed, enums.VerificationStateVerified, c.svc.verifiedTTL)
		if err == nil && outcome != TransitionApplied {
			err = fmt.Errorf("verification claim %s no longer held", c.id)
		}
		if err != nil {
			c.svc.logg.Warn(c.svc.logg.WithFields(ctx, map[string]any{
				"challenge_id": c.id,
				"action":       c.action,
				"error":        err.Error(),
			}), "release verification claim failed")
			return
		}
		c.svc.metrics.Observe(c.action.String(), "released")
	})
	return err
}

func normalizeToken(raw string) (string, bool) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return parsed.String(), true
}

func dependencyError(err error, message string) error {
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeDependency {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
