package authflow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tangpian/melody-auth/pkg/directory"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/login"
	"github.com/tangpian/melody-auth/pkg/pkce"
	"github.com/tangpian/melody-auth/pkg/session"
)

// AuthorizeParams is the validated authorize-request envelope every flow
// entry point carries.
type AuthorizeParams struct {
	ClientID            string   `json:"clientId"`
	RedirectURI         string   `json:"redirectUri"`
	ResponseType        string   `json:"responseType"`
	State               string   `json:"state"`
	Nonce               string   `json:"nonce,omitempty"`
	CodeChallenge       string   `json:"codeChallenge"`
	CodeChallengeMethod string   `json:"codeChallengeMethod"`
	Scopes              []string `json:"scopes"`
	Locale              string   `json:"locale,omitempty"`
	Org                 string   `json:"org,omitempty"`
}

// PasswordRequest starts a flow with an email and password.
type PasswordRequest struct {
	AuthorizeParams
	Email    string `json:"email"`
	Password string `json:"password"`
	IP       string `json:"-"`
}

// SignupRequest starts a flow by creating the account first.
type SignupRequest struct {
	AuthorizeParams
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	IP        string `json:"-"`
}

// validateApp resolves the client and checks the request against its
// registration.
func (s *Service) validateApp(ctx context.Context, params AuthorizeParams) (directory.App, error) {
	if params.ClientID == "" {
		return directory.App{}, appErrors.New(appErrors.ErrCodeInvalidInput, "client_id is required")
	}
	if params.ResponseType != "code" {
		return directory.App{}, appErrors.New(appErrors.ErrCodeInvalidInput, "unsupported response_type")
	}
	if params.CodeChallenge == "" {
		return directory.App{}, appErrors.New(appErrors.ErrCodeInvalidInput, "code_challenge is required")
	}
	if _, err := pkce.ParseMethod(params.CodeChallengeMethod); err != nil {
		return directory.App{}, appErrors.New(appErrors.ErrCodeInvalidInput, "unsupported code_challenge_method")
	}

	app, err := s.deps.Apps.GetByClientID(ctx, params.ClientID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return directory.App{}, appErrors.NotFound("app", params.ClientID)
		}
		return directory.App{}, appErrors.InternalWrap(err, "failed to load app")
	}
	if !app.IsActive {
		return directory.App{}, appErrors.Forbidden("app is disabled")
	}
	if app.Type != directory.AppTypeSPA {
		return directory.App{}, appErrors.Forbidden("app type cannot use the authorization flow")
	}
	if !app.AllowsRedirectURI(params.RedirectURI) {
		return directory.App{}, appErrors.Forbidden("unregistered redirect_uri")
	}
	return app, nil
}

func (s *Service) startSession(ctx context.Context, app directory.App, params AuthorizeParams, user directory.User) (Result, error) {
	sess, err := s.deps.Sessions.Create(ctx, session.AuthSession{
		AppID:   app.ID,
		AppName: app.Name,
		Request: session.AuthRequest{
			ClientID:            params.ClientID,
			RedirectURI:         params.RedirectURI,
			ResponseType:        params.ResponseType,
			State:               params.State,
			Nonce:               params.Nonce,
			CodeChallenge:       params.CodeChallenge,
			CodeChallengeMethod: params.CodeChallengeMethod,
			Scopes:              params.Scopes,
			Locale:              params.Locale,
			Org:                 params.Org,
		},
		User: snapshotUser(user),
	})
	if err != nil {
		return Result{}, appErrors.InternalWrap(err, "failed to create session")
	}

	logStep("password", &sess)
	return s.result(ctx, &sess)
}

// AuthorizePassword verifies the password and opens an authorization
// session. The returned NextPage tells the client whether more steps are
// pending before the code can be exchanged.
func (s *Service) AuthorizePassword(ctx context.Context, req PasswordRequest) (Result, error) {
	app, err := s.validateApp(ctx, req.AuthorizeParams)
	if err != nil {
		return Result{}, err
	}

	user, err := s.deps.Login.Authenticate(ctx, req.Email, req.Password, req.IP)
	if err != nil {
		return Result{}, err
	}

	return s.startSession(ctx, app, req.AuthorizeParams, user)
}

// AuthorizeSignup creates the account and opens a session for it in one
// step, the way first-time users come in.
func (s *Service) AuthorizeSignup(ctx context.Context, req SignupRequest) (Result, error) {
	app, err := s.validateApp(ctx, req.AuthorizeParams)
	if err != nil {
		return Result{}, err
	}

	user, err := s.deps.Login.Signup(ctx, login.SignupRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Locale:    req.Locale,
	})
	if err != nil {
		return Result{}, err
	}

	// A failed delivery must not lose the account that was just created.
	if err := s.deps.Verifier.SendVerificationEmail(ctx, app.Name, user); err != nil {
		slog.Error("failed to send verification email", "err", err, "user_id", user.ID)
	}

	return s.startSession(ctx, app, req.AuthorizeParams, user)
}

// VerifyEmail redeems a signup verification code and marks the user's
// email address verified.
func (s *Service) VerifyEmail(ctx context.Context, userID uuid.UUID, code string) error {
	return s.deps.Verifier.VerifyEmail(ctx, userID, code)
}
