// Package config provides environment variable readers and value validators.
//
// Readers never fail. A malformed or out-of-range value falls back to the
// default and is recorded as a Fallback so the caller can log it and keep
// running with a known-good setting.
//
// Example:
//
//	env := config.NewEnv(os.LookupEnv)
//	timeout := env.Duration("HTTP_SHUTDOWN_TIMEOUT", 60*time.Second, config.ValidatePositiveDuration)
//	for _, fb := range env.Fallbacks() {
//	    logger.Warn("configuration fallback applied", slog.String("key", fb.Key), slog.String("reason", fb.Reason))
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves an environment key. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Fallback records a key whose value was rejected in favour of the default.
type Fallback struct {
	Key    string
	Value  string
	Reason string
}

// String formats the fallback for logs.
func (f Fallback) String() string {
	return fmt.Sprintf("%s=%q rejected: %s", f.Key, f.Value, f.Reason)
}

// Env reads typed values from a lookup source and collects fallbacks.
// It is not safe for concurrent use.
type Env struct {
	lookup    LookupFunc
	fallbacks []Fallback
}

// NewEnv returns an Env reading from lookup, or from the process environment
// when lookup is nil.
func NewEnv(lookup LookupFunc) *Env {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Env{lookup: lookup}
}

// Fallbacks returns every fallback applied so far.
func (e *Env) Fallbacks() []Fallback {
	return append([]Fallback(nil), e.fallbacks...)
}

func (e *Env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *Env) reject(key, value string, err error) {
	e.fallbacks = append(e.fallbacks, Fallback{Key: key, Value: value, Reason: err.Error()})
}

// String returns the value of key, or def when unset or empty.
func (e *Env) String(key, def string, validators ...func(string) error) string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	for _, validate := range validators {
		if err := validate(v); err != nil {
			e.reject(key, v, err)
			return def
		}
	}
	return v
}

// Secret is String without validation whose rejected value is never recorded.
func (e *Env) Secret(key, def string) string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	return v
}

// Int parses key as a base-10 integer.
func (e *Env) Int(key string, def int, validators ...func(int) error) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.reject(key, v, fmt.Errorf("not an integer"))
		return def
	}
	for _, validate := range validators {
		if err := validate(n); err != nil {
			e.reject(key, v, err)
			return def
		}
	}
	return n
}

// Int64 parses key as a base-10 64-bit integer.
func (e *Env) Int64(key string, def int64) int64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.reject(key, v, fmt.Errorf("not an integer"))
		return def
	}
	return n
}

// Float parses key as a float64.
func (e *Env) Float(key string, def float64, validators ...func(float64) error) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.reject(key, v, fmt.Errorf("not a number"))
		return def
	}
	for _, validate := range validators {
		if err := validate(f); err != nil {
			e.reject(key, v, err)
			return def
		}
	}
	return f
}

// Bool accepts the forms strconv.ParseBool accepts.
func (e *Env) Bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.reject(key, v, fmt.Errorf("not a boolean"))
		return def
	}
	return b
}

// Duration parses key with time.ParseDuration.
func (e *Env) Duration(key string, def time.Duration, validators ...func(time.Duration) error) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.reject(key, v, fmt.Errorf("not a duration"))
		return def
	}
	for _, validate := range validators {
		if err := validate(d); err != nil {
			e.reject(key, v, err)
			return def
		}
	}
	return d
}

// StringList splits key on commas, trimming blanks. An empty result keeps def.
func (e *Env) StringList(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
