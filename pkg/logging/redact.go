package logging

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
)

// defaultRedactPatterns mirrors the reference client's default glob list for
// config keys whose values should never reach the logs.
var defaultRedactPatterns = []string{"*key*", "*token*", "*secret*", "*password*"}

// RedactingHandler wraps a slog.Handler, replacing every occurrence of a
// known secret inside the message and string attribute values with a fixed
// placeholder. It does not inspect keys — secret *values* are collected
// once (from resolved config) and scrubbed wherever they appear, including
// inside formatted messages.
type RedactingHandler struct {
	next   slog.Handler
	values map[string]struct{}
}

// NewRedactingHandler wraps next, redacting any of secretValues wherever
// they appear in a record's message or attributes.
func NewRedactingHandler(next slog.Handler, secretValues []string) *RedactingHandler {
	set := make(map[string]struct{}, len(secretValues))
	for _, v := range secretValues {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return &RedactingHandler{next: next, values: set}
}

const redactedPlaceholder = "***REDACTED***"

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	if len(h.values) == 0 {
		return h.next.Handle(ctx, r)
	}

	redacted := slog.NewRecord(r.Time, r.Level, h.redactString(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		redacted.AddAttrs(h.redactAttr(a))
		return true
	})
	return h.next.Handle(ctx, redacted)
}

func (h *RedactingHandler) redactAttr(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		return slog.String(a.Key, h.redactString(a.Value.String()))
	}
	return a
}

func (h *RedactingHandler) redactString(s string) string {
	for secret := range h.values {
		s = strings.ReplaceAll(s, secret, redactedPlaceholder)
	}
	return s
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	scrubbed := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		scrubbed[i] = h.redactAttr(a)
	}
	return &RedactingHandler{next: h.next.WithAttrs(scrubbed), values: h.values}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), values: h.values}
}

// CollectSecretValues walks a resolved config map (as produced by decoding
// config JSON/YAML into a generic map) and returns the values of every key
// matching one of patterns (glob syntax, case-insensitive). Only string
// leaf values are collected.
func CollectSecretValues(config map[string]interface{}, patterns []string) []string {
	if len(patterns) == 0 {
		patterns = defaultRedactPatterns
	}
	var values []string
	walkConfig(config, patterns, &values)
	return values
}

func walkConfig(obj interface{}, patterns []string, out *[]string) {
	switch v := obj.(type) {
	case map[string]interface{}:
		for key, val := range v {
			if s, ok := val.(string); ok && matchesAny(key, patterns) {
				*out = append(*out, s)
				continue
			}
			walkConfig(val, patterns, out)
		}
	case []interface{}:
		for _, item := range v {
			walkConfig(item, patterns, out)
		}
	}
}

func matchesAny(key string, patterns []string) bool {
	lower := strings.ToLower(key)
	for _, p := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), lower); ok {
			return true
		}
	}
	return false
}
