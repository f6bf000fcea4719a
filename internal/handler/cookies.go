package handler

import (
	"net/http"
	"strings"
	"time"
)

// CookieSettings controls the refresh cookie. The cookie is always HttpOnly:
// scripts never see the refresh credential.
type CookieSettings struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func (handler *AuthenticationHandler) setRefreshCookie(writer http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(writer, &http.Cookie{
		Name:     handler.cookie.Name,
		Value:    value,
		Path:     handler.cookie.Path,
		Domain:   handler.cookie.Domain,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   handler.cookie.Secure,
		SameSite: handler.cookie.SameSite,
	})
}

func (handler *AuthenticationHandler) clearRefreshCookie(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     handler.cookie.Name,
		Value:    "",
		Path:     handler.cookie.Path,
		Domain:   handler.cookie.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   handler.cookie.Secure,
		SameSite: handler.cookie.SameSite,
	})
}

func (handler *AuthenticationHandler) refreshTokenFromCookie(request *http.Request) string {
	cookie, err := request.Cookie(handler.cookie.Name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
