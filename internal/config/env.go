package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

func envString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

// envArray reads a comma-separated list, dropping blank entries.
func envArray(key string) ([]string, bool) {
	raw, ok := envString(key)
	if !ok {
		return nil, false
	}
	values := splitList(raw)
	return values, len(values) > 0
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// envParser reads typed variables and records every malformed value so Load
// can report them together.
type envParser struct {
	errs []error
}

func (p *envParser) invalid(key, kind, raw string) {
	p.errs = append(p.errs, fmt.Errorf("%s must be %s, got %q", key, kind, raw))
}

func (p *envParser) boolean(key string) (bool, bool) {
	raw, ok := envString(key)
	if !ok {
		return false, false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.invalid(key, "a boolean", raw)
		return false, false
	}
	return value, true
}

func (p *envParser) integer(key string) (int, bool) {
	raw, ok := envString(key)
	if !ok {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.invalid(key, "an integer", raw)
		return 0, false
	}
	return value, true
}

func (p *envParser) float(key string) (float64, bool) {
	raw, ok := envString(key)
	if !ok {
		return 0, false
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.invalid(key, "a number", raw)
		return 0, false
	}
	return value, true
}

func (p *envParser) err() error {
	if len(p.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment: %w", errors.Join(p.errs...))
}
