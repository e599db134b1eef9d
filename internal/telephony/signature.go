package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"receptionist/internal/telemetry"
	"receptionist/pkg/logger"
)

const SignatureHeader = "X-Twilio-Signature"

// Signature computes Twilio's request signature: HMAC-SHA1 keyed by the auth token over
// the full request URL followed by every POST parameter as key+value, sorted by key.
func Signature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vs := append([]string(nil), params[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSignature reports whether signature authenticates the request. An empty token never validates.
func ValidateSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	want := Signature(authToken, fullURL, params)
	return hmac.Equal([]byte(want), []byte(signature))
}

// RequireSignature rejects callbacks whose X-Twilio-Signature does not match.
// publicBaseURL is the externally visible origin Twilio was configured with.
func RequireSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		log := logger.FromGin(c)

		if err := c.Request.ParseForm(); err != nil {
			log.Warn("twilio webhook parse failed", "err", err)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		fullURL := base + c.Request.URL.RequestURI()
		if !ValidateSignature(authToken, fullURL, c.Request.PostForm, c.GetHeader(SignatureHeader)) {
			log.Warn("twilio signature rejected", "url", fullURL)
			telemetry.WebhookEvents.WithLabelValues(eventFromPath(c.FullPath()), "rejected").Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

func eventFromPath(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 && i < len(p)-1 {
		return p[i+1:]
	}
	return "unknown"
}
