// Package sign builds the authenticated WebSocket URL the speech service
// expects.
//
// The service authenticates the upgrade request with an HMAC-SHA256 signature
// over three pseudo-headers (host, date, request line). Because browsers and
// most WebSocket clients cannot set custom upgrade headers, the signature and
// its inputs travel as query parameters instead:
//
//	wss://{host}{path}?authorization={b64 auth}&date={http date}&host={host}
//
// Signing is pure and deterministic for a fixed clock, which makes it safe to
// call concurrently and trivial to test.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/xfspeech/pkg/speech"
)

// DefaultScheme is the URL scheme used when none is configured.
const DefaultScheme = "wss"

// Endpoint is a signed, single-use URL. The signature embeds the date, so an
// endpoint should be used promptly and re-signed for every new connection.
type Endpoint struct {
	URL      string
	Date     string
	SignedAt time.Time
}

// Sign signs a GET request for path on host at time now and returns the wss
// URL carrying the authorization parameters.
func Sign(creds speech.Credentials, host, path string, now time.Time) (Endpoint, error) {
	return sign(DefaultScheme, creds, host, path, now)
}

// Signer signs endpoints with a fixed credential set. The zero Clock means
// [time.Now]. A Signer holds no mutable state and may be shared.
type Signer struct {
	Credentials speech.Credentials

	// Scheme overrides the URL scheme. Local test servers use "ws".
	Scheme string

	// Clock returns the signing time.
	Clock func() time.Time
}

// Sign signs path on host using the signer's clock.
func (s *Signer) Sign(host, path string) (Endpoint, error) {
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	scheme := s.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	return sign(scheme, s.Credentials, host, path, now())
}

func sign(scheme string, creds speech.Credentials, host, path string, now time.Time) (Endpoint, error) {
	if err := checkInputs(scheme, creds, host, path); err != nil {
		return Endpoint{}, err
	}

	date := now.UTC().Format(http.TimeFormat)
	signature := Signature(creds.APISecret, host, date, path)

	auth := fmt.Sprintf(`api_key="%s", algorithm="hmac-sha256", headers="host date request-line", signature="%s"`,
		creds.APIKey, signature)
	authB64 := base64.StdEncoding.EncodeToString([]byte(auth))

	// Fixed parameter order. host goes in unescaped.
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(path)
	b.WriteString("?authorization=")
	b.WriteString(url.QueryEscape(authB64))
	b.WriteString("&date=")
	b.WriteString(url.QueryEscape(date))
	b.WriteString("&host=")
	b.WriteString(host)

	return Endpoint{URL: b.String(), Date: date, SignedAt: now}, nil
}

// Signature returns base64(HMAC-SHA256(secret, origin)) where origin is the
// newline-joined host, date, and request-line pseudo-headers.
func Signature(secret, host, date, path string) string {
	origin := "host: " + host + "\ndate: " + date + "\nGET " + path + " HTTP/1.1"
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(origin))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func checkInputs(scheme string, creds speech.Credentials, host, path string) error {
	switch {
	case creds.APIKey == "":
		return &speech.SigningError{Reason: "api key is empty"}
	case creds.APISecret == "":
		return &speech.SigningError{Reason: "api secret is empty"}
	case host == "":
		return &speech.SigningError{Reason: "host is empty"}
	case strings.ContainsAny(host, "/?#@ \t\r\n"):
		return &speech.SigningError{Reason: fmt.Sprintf("host %q is not a bare authority", host)}
	case !strings.HasPrefix(path, "/"):
		return &speech.SigningError{Reason: fmt.Sprintf("path %q must start with /", path)}
	case strings.ContainsAny(path, "?# \t\r\n"):
		return &speech.SigningError{Reason: fmt.Sprintf("path %q contains query or whitespace", path)}
	case scheme != "ws" && scheme != "wss":
		return &speech.SigningError{Reason: fmt.Sprintf("unsupported scheme %q", scheme)}
	}
	return nil
}
