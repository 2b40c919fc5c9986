package app

import (
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(method string, color bool) string {
	var code string
	switch method {
	case "GET", "HEAD":
		code = ansiGreen
	case "POST":
		code = ansiCyan
	case "PUT", "PATCH":
		code = ansiYellow
	case "DELETE":
		code = ansiRed
	default:
		code = ansiMagenta
	}
	return paint(method, code, color)
}

func statusColor(status int) string {
	switch {
	case status >= 500:
		return ansiRed
	case status >= 400:
		return ansiYellow
	case status >= 300:
		return ansiCyan
	case status >= 200:
		return ansiGreen
	default:
		return ""
	}
}

func colorizeStatusCode(status int, color bool) string {
	return paint(strconv.Itoa(status), statusColor(status), color)
}

func colorizeStatusClass(class string, color bool) string {
	if len(class) == 3 && class[1:] == "xx" && class[0] >= '1' && class[0] <= '5' {
		return paint(class, statusColor(int(class[0]-'0')*100), color)
	}
	return class
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success", "authenticated", "valid":
		return paint(result, ansiGreen, color)
	case "redirect", "pending":
		return paint(result, ansiCyan, color)
	case "client_error", "already_redeemed", "expired", "not_found":
		return paint(result, ansiYellow, color)
	case "server_error", "error":
		return paint(result, ansiRed, color)
	default:
		return result
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// stripANSI removes CSI color sequences.
func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// visualLen is the printed width of s, ignoring color sequences.
func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

func truncateVisual(s string, n int) string {
	if visualLen(s) <= n {
		return s
	}
	if n <= 1 {
		return "…"
	}
	r := []rune(stripANSI(s))
	return string(r[:n-1]) + "…"
}

// wrapSegments packs segments into lines no wider than width. Continuation
// lines start with indent; a segment that cannot fit on its own is truncated.
func wrapSegments(segs []string, sep string, width int, indent string) []string {
	var (
		lines []string
		cur   string
	)
	sepLen := visualLen(sep)
	indentLen := visualLen(indent)

	for _, seg := range segs {
		avail := width - indentLen
		if len(lines) == 0 && cur == "" {
			avail = width
		}
		seg = truncateVisual(seg, avail)

		switch {
		case cur == "" && len(lines) == 0:
			cur = seg
		case cur == "":
			cur = indent + seg
		case visualLen(cur)+sepLen+visualLen(seg) <= width:
			cur += sep + seg
		default:
			lines = append(lines, cur)
			cur = indent + truncateVisual(seg, width-indentLen)
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}
