package backend

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
)

// ClientContext carries what every backend call needs. It is built once by
// the caller and passed to constructors.
type ClientContext struct {
	BaseURL  string
	Token    string
	Operator string
}

// BaseURL picks base when set, otherwise assembles one from ip and port.
// A missing scheme defaults to http.
func BaseURL(base, ip, port string) (string, error) {
	if b := strings.TrimSpace(base); b != "" {
		return b, nil
	}
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", errors.New("backend address is not configured: set server.base_url or server.ip_address and server.port")
	}
	host := ip
	lower := strings.ToLower(ip)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		host = "http://" + ip
	}
	if port = strings.TrimSpace(port); port != "" {
		return host + ":" + port, nil
	}
	return host, nil
}

func (c ClientContext) parseBase() (*url.URL, error) {
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, errors.New("empty base url")
	}
	u, err := url.Parse(strings.TrimSpace(c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q needs a scheme and host", c.BaseURL)
	}
	return u, nil
}

// CleanToken strips quotes, control characters, blanks and a leading
// "Bearer" from a stored token.
func CleanToken(raw string) string {
	s := strings.Trim(strings.TrimSpace(raw), `"'`)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	if len(s) >= 6 && strings.EqualFold(s[:6], "bearer") {
		s = strings.TrimLeft(s[6:], ": \t")
	}
	return strings.ReplaceAll(s, " ", "")
}

// TokenExpiry reads the exp claim without verifying the signature; the
// terminal only uses it to warn before the backend starts refusing calls.
func (c ClientContext) TokenExpiry() (time.Time, bool) {
	tok := CleanToken(c.Token)
	if tok == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
