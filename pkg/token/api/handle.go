package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tangpian/melody-auth/pkg/directory"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
	"github.com/tangpian/melody-auth/pkg/jwks"
	"github.com/tangpian/melody-auth/pkg/token"
)

// Handler exposes the token endpoints over /oauth2/v1.
type Handler struct {
	tokens *token.Service
	users  directory.UserRepository
	keys   *jwks.Service
}

func NewHandler(tokens *token.Service, users directory.UserRepository, keys *jwks.Service) *Handler {
	return &Handler{tokens: tokens, users: users, keys: keys}
}

// Routes builds the /oauth2/v1 router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/token", h.Token)
	r.Post("/revoke", h.Revoke)
	r.Post("/logout", h.Logout)
	r.Get("/userinfo", h.Userinfo)
	r.Get("/jwks", h.Jwks)

	return r
}

// Token dispatches on grant_type. Both grants read the RFC 6749
// form-encoded body.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, r, appErrors.New(appErrors.ErrCodeInvalidInput, "malformed request body"))
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		resp, err := h.tokens.ExchangeCode(r.Context(), token.ExchangeCodeRequest{
			ClientID:     r.PostForm.Get("client_id"),
			Code:         r.PostForm.Get("code"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
		})
		if err != nil {
			writeOAuthError(w, r, err)
			return
		}
		render.JSON(w, r, resp)

	case "refresh_token":
		resp, err := h.tokens.RefreshAccessToken(r.Context(), r.PostForm.Get("refresh_token"))
		if err != nil {
			writeOAuthError(w, r, err)
			return
		}
		render.JSON(w, r, resp)

	default:
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, OAuthError{Error: "unsupported_grant_type"})
	}
}

// Revoke deletes a refresh token. Per RFC 7009 the response is 200 even
// for tokens the server never issued.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, r, appErrors.New(appErrors.ErrCodeInvalidInput, "malformed request body"))
		return
	}

	if err := h.tokens.Revoke(r.Context(), r.PostForm.Get("token")); err != nil {
		writeOAuthError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// Logout requires a valid access token, deletes the refresh record, and
// returns the redirect the client should follow.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.VerifyAccessToken(r.Context(), bearerToken(r))
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, r, appErrors.New(appErrors.ErrCodeInvalidInput, "malformed request body"))
		return
	}

	redirect, err := h.tokens.Logout(r.Context(),
		r.PostForm.Get("refresh_token"),
		claims.Azp,
		r.PostForm.Get("post_logout_redirect_uri"))
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}
	render.JSON(w, r, LogoutResponse{RedirectURI: redirect})
}

func (h *Handler) Userinfo(w http.ResponseWriter, r *http.Request) {
	claims, err := h.tokens.VerifyAccessToken(r.Context(), bearerToken(r))
	if err != nil {
		writeOAuthError(w, r, err)
		return
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		writeOAuthError(w, r, appErrors.New(appErrors.ErrCodeTokenInvalid, "invalid subject"))
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeOAuthError(w, r, appErrors.New(appErrors.ErrCodeTokenInvalid, "unknown subject"))
			return
		}
		writeOAuthError(w, r, appErrors.InternalWrap(err, "failed to load user"))
		return
	}

	render.JSON(w, r, UserinfoResponse{
		Sub:           user.ID.String(),
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Locale:        user.Locale,
		Roles:         user.Roles,
	})
}

func (h *Handler) Jwks(w http.ResponseWriter, r *http.Request) {
	doc, err := h.keys.Document(r.Context())
	if err != nil {
		writeOAuthError(w, r, appErrors.InternalWrap(err, "failed to build jwks document"))
		return
	}
	render.JSON(w, r, doc)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}

// writeOAuthError translates structured errors into the RFC 6749 error
// vocabulary.
func writeOAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		slog.Error("unexpected oauth handler error", "path", r.URL.Path, "err", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, OAuthError{Error: "server_error"})
		return
	}

	var code string
	switch appErr.Code {
	case appErrors.ErrCodeInvalidGrant:
		code = "invalid_grant"
	case appErrors.ErrCodeInvalidInput:
		code = "invalid_request"
	case appErrors.ErrCodeTokenInvalid, appErrors.ErrCodeUnauthorized:
		code = "invalid_token"
	case appErrors.ErrCodeInternal:
		slog.Error("oauth handler failed", "path", r.URL.Path, "err", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, OAuthError{Error: "server_error"})
		return
	default:
		code = "invalid_request"
	}

	render.Status(r, appErr.HTTPStatusCode())
	render.JSON(w, r, OAuthError{Error: code, ErrorDescription: appErr.Message})
}
