package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders records as wrapped key=value lines for terminals.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	width  int
	mu     *sync.Mutex
}

const (
	prettyIndent       = "    "
	defaultPrettyWidth = 100
	minPrettyWidth     = 40
	maxPrettyWidth     = 400
)

type levelStyle struct {
	min   slog.Level
	label string
	code  string
}

// Ordered from most to least severe; the first entry at or below the record level wins.
var levelStyles = []levelStyle{
	{min: slog.LevelError, label: "[ERROR]", code: ansiRed},
	{min: slog.LevelWarn, label: "[WARN]", code: ansiYellow},
	{min: slog.LevelInfo, label: "[INFO]", code: ansiBlue},
}

var debugStyle = levelStyle{label: "[DEBUG]", code: ansiMagenta}

// prettyKeys shortens request log keys.
var prettyKeys = map[string]string{
	"status_class": "class",
	"duration_ms":  "duration",
}

type fieldRenderer func(v slog.Value, color bool) (string, bool)

var fieldRenderers = map[string]fieldRenderer{
	"method": func(v slog.Value, color bool) (string, bool) {
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), color), true
	},
	"path": func(v slog.Value, color bool) (string, bool) {
		return paint(strings.TrimSpace(v.String()), ansiCyan, color), true
	},
	"status": func(v slog.Value, color bool) (string, bool) {
		n, ok := valueToInt64(v)
		if !ok {
			return "", false
		}
		return colorizeStatusCode(int(n), color), true
	},
	"status_class": func(v slog.Value, color bool) (string, bool) {
		return colorizeStatusClass(strings.TrimSpace(v.String()), color), true
	},
	"duration_ms": func(v slog.Value, color bool) (string, bool) {
		n, ok := valueToInt64(v)
		if !ok {
			return "", false
		}
		return colorizeDurationMS(n, color), true
	},
	"result": func(v slog.Value, color bool) (string, bool) {
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), color), true
	},
	"err": func(v slog.Value, color bool) (string, bool) {
		return paint(quoteValue(formatValue(v)), ansiRed, color), true
	},
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	h.width = h.terminalWidth()
	return h
}

// terminalWidth resolves the wrap width from HANDOFF_LOG_WIDTH, then COLUMNS.
// Values outside [minPrettyWidth, maxPrettyWidth] fall back to the default.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"HANDOFF_LOG_WIDTH", "COLUMNS"} {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < minPrettyWidth || n > maxPrettyWidth {
			return defaultPrettyWidth
		}
		return n
	}
	return defaultPrettyWidth
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Level == nil {
		return level >= slog.LevelInfo
	}
	return level >= h.opts.Level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	segs := make([]string, 0, 4+len(h.attrs)+r.NumAttrs())
	segs = append(segs,
		"ts="+paint(ts.Format("15:04:05.000"), ansiDim, h.color),
		"lvl="+levelTag(r.Level, h.color),
		"msg="+paint(r.Message, ansiBright, h.color),
	)
	if src := recordSource(r); h.opts.AddSource && src != "" {
		segs = append(segs, "src="+paint(src, ansiDim, h.color))
	}

	prefix := strings.Join(h.groups, ".")
	fields := h.flatten(nil, prefix, h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		fields = h.flatten(fields, prefix, []slog.Attr{a})
		return true
	})
	for _, f := range fields {
		segs = append(segs, h.renderField(f))
	}

	line := strings.Join(segs, " ")
	if h.width > 0 {
		line = strings.Join(wrapSegments(segs, " ", h.width, prettyIndent), "\n")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

// prettyField is a leaf attribute with its dotted key resolved.
type prettyField struct {
	key   string
	value slog.Value
}

// flatten expands groups into dotted keys, dropping empty attrs and anything
// ReplaceAttr removes.
func (h *prettyHandler) flatten(dst []prettyField, prefix string, attrs []slog.Attr) []prettyField {
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		key := strings.TrimSpace(a.Key)
		if key == "" || a.Equal(slog.Attr{}) {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if a.Value.Kind() == slog.KindGroup {
			dst = h.flatten(dst, key, a.Value.Group())
			continue
		}
		if h.opts.ReplaceAttr != nil {
			if a = h.opts.ReplaceAttr(h.groups, a); a.Key == "" {
				continue
			}
		}
		dst = append(dst, prettyField{key: key, value: a.Value})
	}
	return dst
}

func (h *prettyHandler) renderField(f prettyField) string {
	key := f.key
	if short, ok := prettyKeys[key]; ok {
		key = short
	}
	if render, ok := fieldRenderers[f.key]; ok {
		if s, ok := render(f.value, h.color); ok {
			return key + "=" + s
		}
	}
	return key + "=" + quoteValue(formatValue(f.value))
}

func recordSource(r slog.Record) string {
	if r.PC == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
	if frame.File == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
}

// formatValue prints scalars the way slog's text handler does, except times,
// which use RFC 3339.
func formatValue(v slog.Value) string {
	if v.Kind() == slog.KindTime {
		return v.Time().Format(time.RFC3339)
	}
	return v.String()
}

func quoteValue(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	style := debugStyle
	for _, ls := range levelStyles {
		if level >= ls.min {
			style = ls
			break
		}
	}
	return paint(style.label, style.code, color)
}
