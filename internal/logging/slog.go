// Copyright 2024 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const messageKey = "message"

const moduleKey = "module"

const (
	FormatPlain = "plain"
	FormatText  = "text"
	FormatJSON  = "json"
)

// SlogConfig is the default log level plus per-module overrides. A logger's
// module is set with logger.With("module", name).
type SlogConfig struct {
	DefaultLevel slog.Level
	ModuleLevels map[string]slog.Level
}

// ParseLevels parses a string such as "error;scan=debug" into a SlogConfig. An
// entry without a module, or with the module "*", sets the default level.
func ParseLevels(s string) (SlogConfig, error) {
	cfg := SlogConfig{DefaultLevel: slog.LevelInfo}
	for _, entry := range strings.FieldsFunc(s, func(r rune) bool { return r == ';' }) {
		module, level, ok := strings.Cut(entry, "=")
		if !ok {
			module, level = "*", module
		}

		var l slog.Level
		err := l.UnmarshalText([]byte(strings.TrimSpace(level)))
		if err != nil {
			return SlogConfig{}, fmt.Errorf("invalid log level %q: %w", level, err)
		}

		module = strings.TrimSpace(module)
		if module == "*" {
			cfg.DefaultLevel = l
			continue
		}
		if cfg.ModuleLevels == nil {
			cfg.ModuleLevels = map[string]slog.Level{}
		}
		cfg.ModuleLevels[module] = l
	}
	return cfg, nil
}

// NewSlogHandler returns a handler that writes JSON records to w, filtered by
// the configured levels.
func NewSlogHandler(cfg SlogConfig, w io.Writer) (slog.Handler, error) {
	if w == nil {
		return nil, fmt.Errorf("no log writer")
	}

	json := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       slog.LevelDebug,
		ReplaceAttr: replaceAttr,
	})
	return &logHandler{
		handler:      json,
		defaultLevel: cfg.DefaultLevel,
		modules:      cfg.ModuleLevels,
	}, nil
}

// NewLogger returns a logger for a level string (see ParseLevels) and a
// format, which is plain, text or json.
func NewLogger(levels, format string, w io.Writer) (*slog.Logger, error) {
	cfg, err := ParseLevels(levels)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(format) {
	case FormatPlain, FormatText:
		w = ConsoleSlogWriter(w, false)
	case FormatJSON:
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}

	h, err := NewSlogHandler(cfg, w)
	if err != nil {
		return nil, err
	}
	return slog.New(h), nil
}

// ConsoleSlogWriter formats the JSON produced by NewSlogHandler as plain text.
func ConsoleSlogWriter(w io.Writer, color bool) io.Writer {
	return &zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    !color,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i interface{}) string {
			if ll, ok := i.(string); ok {
				return strings.ToUpper(ll)
			}
			return "????"
		},
	}
}

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	switch a.Key {
	case slog.MessageKey:
		a.Key = messageKey
	case slog.TimeKey:
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.Format(time.RFC3339))
		}
	}
	return a
}

type logHandler struct {
	handler      slog.Handler
	defaultLevel slog.Level
	modules      map[string]slog.Level
	module       string
}

func (h *logHandler) level() slog.Level {
	if l, ok := h.modules[h.module]; ok {
		return l
	}
	return h.defaultLevel
}

func (h *logHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level()
}

func (h *logHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.level() {
		return nil
	}
	r.AddAttrs(Attrs(ctx)...)
	return h.handler.Handle(ctx, r)
}

func (h *logHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	g := *h
	for _, a := range attrs {
		if a.Key == moduleKey {
			g.module = a.Value.String()
		}
	}
	g.handler = h.handler.WithAttrs(attrs)
	return &g
}

func (h *logHandler) WithGroup(name string) slog.Handler {
	g := *h
	g.handler = h.handler.WithGroup(name)
	return &g
}
