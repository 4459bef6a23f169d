package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/internal/verification"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type issueChallengeRequest struct {
	Action string `json:"action" validate:"required"`
}

type verifyChallengeRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required"`
	Action      string `json:"action" validate:"required"`
	Response    string `json:"response" validate:"required"`
}

type verifyChallengeResponse struct {
	VerificationToken string                   `json:"verification_token"`
	Action            enums.VerificationAction `json:"action"`
	State             enums.VerificationState  `json:"state"`
	ExpiresAt         time.Time                `json:"expires_at"`
}

// VerificationIssue opens a challenge for one gated action.
func VerificationIssue(svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		var payload issueChallengeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		action, err := parseAction(payload.Action)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		challenge, err := svc.IssueChallenge(ctx, action)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusCreated, challenge)
	}
}

// VerificationVerify submits a solved challenge. On success the challenge id
// becomes the token the gated endpoint expects.
func VerificationVerify(svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		var payload verifyChallengeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		action, err := parseAction(payload.Action)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		challenge, err := svc.Validate(ctx, verification.ValidateInput{
			ChallengeID: payload.ChallengeID,
			Action:      action,
			Response:    payload.Response,
			RemoteIP:    middleware.ClientIP(r),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, verifyChallengeResponse{
			VerificationToken: challenge.ID,
			Action:            challenge.Action,
			State:             challenge.State,
			ExpiresAt:         challenge.ExpiresAt.UTC(),
		})
	}
}

type challengeStatusResponse struct {
	ChallengeID string                  `json:"challenge_id"`
	State       enums.VerificationState `json:"state"`
}

// VerificationStatus reports where a challenge stands. Unknown, expired and
// consumed handles all read as unverified.
func VerificationStatus(svc verification.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		challengeID := strings.TrimSpace(chi.URLParam(r, "challengeID"))
		state, err := svc.State(ctx, challengeID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, challengeStatusResponse{ChallengeID: challengeID, State: state})
	}
}

func parseAction(raw string) (enums.VerificationAction, error) {
	action, err := enums.ParseVerificationAction(raw)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown verification action").
			WithDetails(map[string]string{"action": "must be one of: login, register, create_order"})
	}
	return action, nil
}
