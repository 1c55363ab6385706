package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
)

// authed validates the Authorization: Bearer <token> header against the
// configured API key. An unset key disables the check entirely.
func (g *Gateway) authed(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if g.apiKey == "" {
			g.logger.Warn("GATEWAY_API_KEY not set - authentication disabled (dev mode)")
			h(w, r, p)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			g.logger.Warn("missing or malformed Authorization header")
			http.Error(w, "missing or malformed Authorization header", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(g.apiKey)) != 1 {
			g.logger.Warn("invalid API key provided")
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}
		h(w, r, p)
	}
}

// limited applies the gateway-wide rate limit, when one is configured.
func (g *Gateway) limited(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if g.limiter != nil && !g.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		h(w, r, p)
	}
}
