package api

// UserinfoResponse is the GET /userinfo payload.
type UserinfoResponse struct {
	Sub           string   `json:"sub"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	FirstName     string   `json:"first_name,omitempty"`
	LastName      string   `json:"last_name,omitempty"`
	Locale        string   `json:"locale,omitempty"`
	Roles         []string `json:"roles,omitempty"`
}

// LogoutResponse returns the URL the client should navigate to.
type LogoutResponse struct {
	RedirectURI string `json:"redirectUri"`
}

// OAuthError is the RFC 6749 error payload.
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}
