package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LoggingKeyRealm is the attribute the pipeline packages use to tag their records.
const LoggingKeyRealm = "realm"

// filter wraps a slog.Handler and drops records below the minimum level of their realm.
// Records without a matching realm are held to the default level.
type filter struct {
	handler  slog.Handler
	filters  map[string]slog.Level
	key      string
	fallback slog.Level
	preset   string
}

// New wraps handler so that records are filtered by the level configured for the
// value of key. Records whose value has no entry must reach fallback.
func New(handler slog.Handler, key string, fallback slog.Level, filters map[string]slog.Level) slog.Handler {
	return &filter{
		handler:  handler,
		filters:  filters,
		key:      key,
		fallback: fallback,
	}
}

func (f *filter) Enabled(ctx context.Context, level slog.Level) bool {
	if f.preset != "" {
		if minLevel, ok := f.filters[f.preset]; ok && level < minLevel {
			return false
		}
	}
	return f.handler.Enabled(ctx, level)
}

func (f *filter) WithAttrs(attrs []slog.Attr) slog.Handler {
	preset := f.preset
	if preset == "" {
		for _, attr := range attrs {
			if attr.Key == f.key {
				preset = attr.Value.String()
				break
			}
		}
	}
	return &filter{
		handler:  f.handler.WithAttrs(attrs),
		filters:  f.filters,
		key:      f.key,
		fallback: f.fallback,
		preset:   preset,
	}
}

func (f *filter) WithGroup(name string) slog.Handler {
	return &filter{
		handler:  f.handler.WithGroup(name),
		filters:  f.filters,
		key:      f.key,
		fallback: f.fallback,
		preset:   f.preset,
	}
}

func (f *filter) Handle(ctx context.Context, record slog.Record) error {
	if f.shouldFilter(record) {
		return nil
	}
	return f.handler.Handle(ctx, record)
}

func (f *filter) shouldFilter(record slog.Record) bool {
	value := f.preset
	if value == "" {
		value = f.valueFromRecord(record)
	}
	minLevel, ok := f.filters[value]
	if !ok {
		minLevel = f.fallback
	}
	return record.Level < minLevel
}

func (f *filter) valueFromRecord(record slog.Record) string {
	var value string
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == f.key {
			value = attr.Value.String()
			return false
		}
		return true
	})
	return value
}

// KeyFiltersFromStrings parses "key=level" pairs, e.g. "cache=debug".
func KeyFiltersFromStrings(raw ...string) (map[string]slog.Level, error) {
	filters := make(map[string]slog.Level, len(raw))

	for _, filter := range raw {
		key, levelStr, found := strings.Cut(filter, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid filter format: %s, expected key=value", filter)
		}

		var level slog.Level
		if err := level.UnmarshalText([]byte(levelStr)); err != nil {
			return nil, fmt.Errorf("invalid log level in filter %s: %w", filter, err)
		}

		filters[key] = level
	}

	return filters, nil
}

// Rule assigns a minimum level to a set of realms.
type Rule struct {
	Level  string   `json:"level"`
	Realms []string `json:"realms"`
}

// RealmFilters flattens rules into a realm to level map. Later rules win.
func RealmFilters(rules []Rule) (map[string]slog.Level, error) {
	filters := make(map[string]slog.Level)
	for _, rule := range rules {
		var level slog.Level
		if err := level.UnmarshalText([]byte(rule.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level in rule %q: %w", rule.Level, err)
		}
		if len(rule.Realms) == 0 {
			return nil, fmt.Errorf("rule with level %q names no realms", rule.Level)
		}
		for _, realm := range rule.Realms {
			if realm == "" {
				return nil, fmt.Errorf("realm cannot be empty in rule with level %q", rule.Level)
			}
			filters[realm] = level
		}
	}
	return filters, nil
}
