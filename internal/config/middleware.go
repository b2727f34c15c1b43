package config

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MiddlewareConfig groups the settings consumed by the HTTP middleware chain.
type MiddlewareConfig struct {
	Security       SecurityPolicy `yaml:"security"`
	CORS           CORSPolicy     `yaml:"cors"`
	PoweredBy      string         `yaml:"powered_by"`
	RequestLogging bool           `yaml:"request_logging"`
	RateLimit      RateLimit      `yaml:"rate_limit"`
	BodyLimit      int64          `yaml:"body_limit"`
}

// RateLimit configures the per-client token bucket. Zero disables it.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Enabled reports whether requests should be rate limited.
func (r RateLimit) Enabled() bool {
	return r.RPS > 0 && r.Burst > 0
}

// SecurityPolicy describes the security headers applied to every response.
type SecurityPolicy struct {
	// UseDefaults seeds the content security policy with the baseline directives.
	UseDefaults bool `yaml:"use_defaults"`
	// Directives override or extend the baseline. A null value removes the directive.
	Directives            map[string][]string `yaml:"directives"`
	Frameguard            bool                `yaml:"frameguard"`
	HSTSMaxAge            int                 `yaml:"hsts_max_age"`
	HSTSIncludeSubDomains bool                `yaml:"hsts_include_subdomains"`
	XSSFilter             bool                `yaml:"xss_filter"`
}

var baselineDirectives = map[string][]string{
	"default-src":               {"'self'"},
	"base-uri":                  {"'self'"},
	"font-src":                  {"'self'", "https:", "data:"},
	"form-action":               {"'self'"},
	"frame-ancestors":           {"'self'"},
	"img-src":                   {"'self'", "data:"},
	"object-src":                {"'none'"},
	"script-src":                {"'self'"},
	"script-src-attr":           {"'none'"},
	"style-src":                 {"'self'", "https:", "'unsafe-inline'"},
	"upgrade-insecure-requests": {},
}

// valuelessDirectives are emitted without sources.
var valuelessDirectives = map[string]bool{
	"upgrade-insecure-requests": true,
	"block-all-mixed-content":   true,
}

// ContentSecurityPolicy assembles the Content-Security-Policy header value.
// Directives are emitted in lexical order.
func (s SecurityPolicy) ContentSecurityPolicy() string {
	merged := make(map[string][]string, len(baselineDirectives)+len(s.Directives))
	if s.UseDefaults {
		for name, sources := range baselineDirectives {
			merged[name] = sources
		}
	}
	for name, sources := range s.Directives {
		name = strings.ToLower(strings.TrimSpace(name))
		if sources == nil || (len(sources) == 0 && !valuelessDirectives[name]) {
			delete(merged, name)
			continue
		}
		merged[name] = sources
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		sources := merged[name]
		if len(sources) == 0 {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, name+" "+strings.Join(sources, " "))
	}
	return strings.Join(parts, ";")
}

// StrictTransportSecurity returns the HSTS header value, or "" when disabled.
func (s SecurityPolicy) StrictTransportSecurity() string {
	if s.HSTSMaxAge <= 0 {
		return ""
	}
	value := "max-age=" + strconv.Itoa(s.HSTSMaxAge)
	if s.HSTSIncludeSubDomains {
		value += "; includeSubDomains"
	}
	return value
}

func defaultSecurityPolicy() SecurityPolicy {
	return SecurityPolicy{
		UseDefaults: true,
		Directives: map[string][]string{
			"connect-src": {"'self'", "https:"},
			"img-src":     {"'self'", "data:", "blob:", "https:"},
			"media-src":   {"'self'", "data:", "blob:", "https:"},
			// a nil entry drops the baseline directive
			"upgrade-insecure-requests": nil,
		},
		Frameguard:            true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubDomains: true,
		XSSFilter:             true,
	}
}

// CORSPolicy controls which browser origins may call the API.
type CORSPolicy struct {
	Origins           []string `yaml:"origins"`
	OriginPatterns    []string `yaml:"origin_patterns"`
	Methods           []string `yaml:"methods"`
	Headers           []string `yaml:"headers"`
	ExposeHeaders     []string `yaml:"expose_headers"`
	Credentials       bool     `yaml:"credentials"`
	KeepHeaderOnError bool     `yaml:"keep_header_on_error"`
	MaxAge            int      `yaml:"max_age"`

	patterns []*regexp.Regexp
}

// AllowsOrigin reports whether origin matches the configured list or patterns.
func (c CORSPolicy) AllowsOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range c.Origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	for _, pattern := range c.patterns {
		if pattern.MatchString(origin) {
			return true
		}
	}
	return false
}

// Compile validates and caches the origin patterns. Load calls it; policies
// built by hand must call it before AllowsOrigin can match patterns.
func (c *CORSPolicy) Compile() error {
	c.patterns = make([]*regexp.Regexp, 0, len(c.OriginPatterns))
	for _, raw := range c.OriginPatterns {
		pattern, err := regexp.Compile(raw)
		if err != nil {
			return fmt.Errorf("invalid CORS origin pattern %q: %w", raw, err)
		}
		c.patterns = append(c.patterns, pattern)
	}
	return nil
}

func defaultCORSPolicy() CORSPolicy {
	return CORSPolicy{
		Origins: []string{
			"http://localhost:3000",
			"http://localhost:1337",
		},
		OriginPatterns:    []string{`^https://.*\.vercel\.app$`},
		Methods:           []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		Headers:           []string{"Content-Type", "Authorization", "Origin", "Accept"},
		ExposeHeaders:     []string{"X-Request-ID"},
		Credentials:       true,
		KeepHeaderOnError: true,
		MaxAge:            86400,
	}
}

// appendOrigin adds origin when it is an absolute URL not already present.
// Relative values such as an admin path are skipped.
func (c *CORSPolicy) appendOrigin(origin string) {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	if origin == "" {
		return
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return
	}
	origin = u.Scheme + "://" + u.Host
	for _, existing := range c.Origins {
		if strings.EqualFold(existing, origin) {
			return
		}
	}
	c.Origins = append(c.Origins, origin)
}

// DefaultMiddleware returns the built-in middleware settings, ready for use.
func DefaultMiddleware() MiddlewareConfig {
	m := defaultMiddlewareConfig()
	_ = m.CORS.Compile()
	return m
}

func defaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{
		Security:       defaultSecurityPolicy(),
		CORS:           defaultCORSPolicy(),
		PoweredBy:      "stoic-cms",
		RequestLogging: true,
		RateLimit: RateLimit{
			RPS:   25,
			Burst: 50,
		},
		BodyLimit: 1 << 20,
	}
}

func applyMiddlewareEnv(env *envParser, m *MiddlewareConfig) {
	if origins, ok := envArray("CORS_ORIGINS"); ok {
		for _, origin := range origins {
			m.CORS.appendOrigin(origin)
		}
	}
	if poweredBy, ok := envString("POWERED_BY"); ok {
		m.PoweredBy = poweredBy
	}
	if enabled, ok := env.boolean("REQUEST_LOGGING"); ok {
		m.RequestLogging = enabled
	}
	if rps, ok := env.float("RATE_LIMIT_RPS"); ok {
		m.RateLimit.RPS = rps
	}
	if burst, ok := env.integer("RATE_LIMIT_BURST"); ok {
		m.RateLimit.Burst = burst
	}
}
