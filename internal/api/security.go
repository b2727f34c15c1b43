package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/eugenenazirov/stoic-cms/internal/config"
)

func securityMiddleware(policy config.SecurityPolicy, next http.Handler) http.Handler {
	csp := policy.ContentSecurityPolicy()
	hsts := policy.StrictTransportSecurity()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if csp != "" {
			h.Set("Content-Security-Policy", csp)
		}
		if hsts != "" {
			h.Set("Strict-Transport-Security", hsts)
		}
		if policy.Frameguard {
			h.Set("X-Frame-Options", "SAMEORIGIN")
		}
		if policy.XSSFilter {
			// legacy auditors are disabled; CSP covers the same ground
			h.Set("X-XSS-Protection", "0")
		}
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-DNS-Prefetch-Control", "off")
		h.Set("X-Download-Options", "noopen")
		h.Set("X-Permitted-Cross-Domain-Policies", "none")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")
		h.Set("Origin-Agent-Cluster", "?1")
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(policy config.CORSPolicy, next http.Handler) http.Handler {
	methods := strings.Join(policy.Methods, ",")
	headers := strings.Join(policy.Headers, ",")
	expose := strings.Join(policy.ExposeHeaders, ",")
	maxAge := ""
	if policy.MaxAge > 0 {
		maxAge = strconv.Itoa(policy.MaxAge)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Add("Vary", "Origin")

		origin := r.Header.Get("Origin")
		if !policy.AllowsOrigin(origin) {
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h.Set("Access-Control-Allow-Origin", origin)
		if policy.Credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if expose != "" {
			h.Set("Access-Control-Expose-Headers", expose)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", methods)
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			} else if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
				h.Set("Access-Control-Allow-Headers", requested)
			}
			if maxAge != "" {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !policy.KeepHeaderOnError {
			w = &corsErrorWriter{ResponseWriter: w}
		}
		next.ServeHTTP(w, r)
	})
}

var corsResponseHeaders = []string{
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Credentials",
	"Access-Control-Expose-Headers",
}

// corsErrorWriter drops the CORS response headers from server errors.
type corsErrorWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *corsErrorWriter) WriteHeader(status int) {
	if !w.wroteHeader && status >= http.StatusInternalServerError {
		for _, name := range corsResponseHeaders {
			w.Header().Del(name)
		}
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *corsErrorWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func poweredByMiddleware(value string, next http.Handler) http.Handler {
	if value == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Powered-By", value)
		next.ServeHTTP(w, r)
	})
}

func bodyLimitMiddleware(limit int64, next http.Handler) http.Handler {
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > limit {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body is too large", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}
