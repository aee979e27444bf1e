package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tangpian/melody-auth/pkg/authflow"
	appErrors "github.com/tangpian/melody-auth/pkg/errors"
)

// Handler exposes the authorization flow over /identity/v1.
type Handler struct {
	flow *authflow.Service
}

func NewHandler(flow *authflow.Service) *Handler {
	return &Handler{flow: flow}
}

// Routes builds the /identity/v1 router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/authorize-password", h.AuthorizePassword)
	r.Post("/authorize-account", h.AuthorizeAccount)
	r.Post("/verify-email", h.VerifyEmail)

	r.Get("/authorize-mfa-enroll", h.GetMfaEnroll)
	r.Post("/authorize-mfa-enroll", h.PostMfaEnroll)

	r.Get("/authorize-otp-setup", h.GetOtpSetup)
	r.Get("/authorize-otp-mfa", h.GetOtpMfa)
	r.Post("/authorize-otp-mfa", h.PostOtpMfa)

	r.Get("/authorize-sms-mfa", h.GetSmsMfa)
	r.Post("/setup-sms-mfa", h.SetupSmsMfa)
	r.Post("/resend-sms-mfa", h.ResendSmsMfa)
	r.Post("/authorize-sms-mfa", h.PostSmsMfa)

	r.Post("/send-email-mfa", h.SendEmailMfa)
	r.Post("/authorize-email-mfa", h.PostEmailMfa)

	r.Get("/authorize-consent", h.GetConsent)
	r.Post("/authorize-consent", h.PostConsent)

	return r
}

func (h *Handler) AuthorizePassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.flow.AuthorizePassword(r.Context(), authflow.PasswordRequest{
		AuthorizeParams: req.AuthorizeParams,
		Email:           req.Email,
		Password:        req.Password,
		IP:              clientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *Handler) AuthorizeAccount(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.flow.AuthorizeSignup(r.Context(), authflow.SignupRequest{
		AuthorizeParams: req.AuthorizeParams,
		Email:           req.Email,
		Password:        req.Password,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		IP:              clientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, res)
}

func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if !decode(w, r, &req) {
		return
	}

	userID, err := uuid.Parse(req.ID)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid user id"})
		return
	}

	if err := h.flow.VerifyEmail(r.Context(), userID, req.Code); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, MessageResponse{Message: "Email verified"})
}

func (h *Handler) GetMfaEnroll(w http.ResponseWriter, r *http.Request) {
	info, err := h.flow.GetMfaEnrollInfo(r.Context(), sessionCode(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

func (h *Handler) PostMfaEnroll(w http.ResponseWriter, r *http.Request) {
	var req MfaEnrollRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.flow.PostMfaEnroll(r.Context(), req.Code, req.Type)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *Handler) GetOtpSetup(w http.ResponseWriter, r *http.Request) {
	info, err := h.flow.GetOtpSetupInfo(r.Context(), sessionCode(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

func (h *Handler) GetOtpMfa(w http.ResponseWriter, r *http.Request) {
	info, err := h.flow.GetOtpMfaInfo(r.Context(), sessionCode(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

func (h *Handler) PostOtpMfa(w http.ResponseWriter, r *http.Request) {
	var req MfaCodeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.flow.PostOtpMfa(r.Context(), req.Code, req.MfaCode, clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *Handler) GetSmsMfa(w http.ResponseWriter, r *http.Request) {
	info, err := h.flow.GetSmsMfaInfo(r.Context(), sessionCode(r), clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

func (h *Handler) SetupSmsMfa(w http.ResponseWriter, r *http.Request) {
	var req SetupSmsRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.flow.SetupSmsMfa(r.Context(), req.Code, req.PhoneNumber, clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *Handler) ResendSmsMfa(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.flow.ResendSmsMfa(r.Context(), req.Code, clientIP(r)); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, MessageResponse{Message: "Code sent"})
}

func (h *Handler) PostSmsMfa(w http.ResponseWriter, r *http.Request) {
	var req MfaCodeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.flow.PostSmsMfa(r.Context(), req.Code, req.MfaCode, clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *Handler) SendEmailMfa(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.flow.SendEmailMfaCode(r.Context(), req.Code, clientIP(r)); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, MessageResponse{Message: "Code sent"})
}

func (h *Handler) PostEmailMfa(w http.ResponseWriter, r *http.Request) {
	var req MfaCodeRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.flow.PostEmailMfa(r.Context(), req.Code, req.MfaCode, clientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func (h *Handler) GetConsent(w http.ResponseWriter, r *http.Request) {
	info, err := h.flow.GetConsentInfo(r.Context(), sessionCode(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, info)
}

func (h *Handler) PostConsent(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.flow.PostConsent(r.Context(), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, res)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

// sessionCode reads the session token the GET endpoints pass as a query
// parameter.
func sessionCode(r *http.Request) string {
	return r.URL.Query().Get("code")
}

// clientIP prefers the first X-Forwarded-For entry and falls back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		slog.Error("unexpected handler error", "path", r.URL.Path, "err", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "internal error"})
		return
	}

	if appErr.Code == appErrors.ErrCodeInternal {
		slog.Error("handler failed", "path", r.URL.Path, "err", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Error: "internal error"})
		return
	}

	render.Status(r, appErr.HTTPStatusCode())
	render.JSON(w, r, ErrorResponse{Error: appErr.Message})
}
