// api/utils/enrich.go
package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/mileusna/useragent"
)

// HashIP returns an irreversible keyed hash of the requester IP. The raw IP
// is never persisted; the secret keeps the hash from being reversed by
// brute-forcing the IPv4 space.
func HashIP(ip, secret string) string {
	if ip == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseUserAgent derives os, browser and platform from a raw user-agent
// string. Unknown values come back as "unknown" so frequency maps stay
// well-keyed.
func ParseUserAgent(rawUA string) (os, browser, platform string) {
	os, browser, platform = "unknown", "unknown", "unknown"
	if rawUA == "" {
		return
	}

	ua := useragent.Parse(rawUA)
	if ua.OS != "" {
		os = ua.OS
	}
	if ua.Name != "" {
		browser = ua.Name
	}
	switch {
	case ua.Bot:
		platform = "bot"
	case ua.Tablet:
		platform = "tablet"
	case ua.Mobile:
		platform = "mobile"
	case ua.Desktop:
		platform = "desktop"
	}
	return
}

// CountryResolver derives a country code for the requester. Resolution is an
// external concern (GeoIP database, CDN edge); the server only consumes it.
type CountryResolver interface {
	Country(r *http.Request, ip string) string
}

// HeaderCountryResolver reads the country from upstream geo headers set by a
// CDN or reverse proxy. Falls back to "unknown".
type HeaderCountryResolver struct{}

func (HeaderCountryResolver) Country(r *http.Request, ip string) string {
	for _, header := range []string{"CF-IPCountry", "X-Geo-Country"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" && v != "XX" {
			return strings.ToUpper(v)
		}
	}
	return "unknown"
}
