package validation

import (
	"encoding/json"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// toFloat приводит значение к float64, если это возможно
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, asString(item))
	}
	return out
}

// checkString применяет строковые операции к значению.
// Возвращаемые нарушения не содержат имени поля: его подставляет движок.
func (e *Engine) checkString(ops map[string]any, value any) []Violation {
	s, isStr := value.(string)
	if !isStr {
		s = asString(value)
	}

	if ignoreEmpty(ops) && s == "" {
		return nil
	}

	var out []Violation
	runes := utf8.RuneCountInString(s)

	if n, ok := opInt(ops, "min_len"); ok && runes < n {
		out = append(out, Violation{
			Rule:        "min_len",
			Description: fmt.Sprintf("string length must be at least %d characters", n),
			Value:       runes,
		})
	}
	if n, ok := opInt(ops, "max_len"); ok && runes > n {
		out = append(out, Violation{
			Rule:        "max_len",
			Description: fmt.Sprintf("string length must be at most %d characters", n),
			Value:       runes,
		})
	}
	if n, ok := opInt(ops, "len"); ok && runes != n {
		out = append(out, Violation{
			Rule:        "len",
			Description: fmt.Sprintf("string length must be exactly %d characters", n),
			Value:       runes,
		})
	}
	if n, ok := opInt(ops, "min_bytes"); ok && len(s) < n {
		out = append(out, Violation{
			Rule:        "min_bytes",
			Description: fmt.Sprintf("string must be at least %d bytes", n),
			Value:       len(s),
		})
	}
	if n, ok := opInt(ops, "max_bytes"); ok && len(s) > n {
		out = append(out, Violation{
			Rule:        "max_bytes",
			Description: fmt.Sprintf("string must be at most %d bytes", n),
			Value:       len(s),
		})
	}

	if pat, ok := ops["pattern"].(string); ok {
		re, err := e.compileRegex(pat, "")
		if err != nil {
			out = append(out, Violation{
				Rule:        "pattern",
				Description: fmt.Sprintf("invalid pattern %q", pat),
			})
		} else if !re.MatchString(s) {
			out = append(out, Violation{
				Rule:        "pattern",
				Description: fmt.Sprintf("string does not match pattern %q", pat),
				Value:       s,
			})
		}
	}

	if isTrue(ops["email"]) {
		if _, err := mail.ParseAddress(s); err != nil {
			out = append(out, Violation{Rule: "email", Description: "value must be a valid email address", Value: s})
		}
	}
	if isTrue(ops["uuid"]) {
		if _, err := uuid.Parse(s); err != nil {
			out = append(out, Violation{Rule: "uuid", Description: "value must be a valid UUID", Value: s})
		}
	}
	if isTrue(ops["hostname"]) {
		if !isHostname(s) {
			out = append(out, Violation{Rule: "hostname", Description: "value must be a valid hostname", Value: s})
		}
	}
	if isTrue(ops["ipv4"]) {
		if !isIPv4(s) {
			out = append(out, Violation{Rule: "ipv4", Description: "value must be a valid IPv4 address", Value: s})
		}
	}
	if isTrue(ops["ipv6"]) {
		if ip := net.ParseIP(s); ip == nil || !strings.Contains(s, ":") {
			out = append(out, Violation{Rule: "ipv6", Description: "value must be a valid IPv6 address", Value: s})
		}
	}
	if isTrue(ops["uri"]) {
		if u, err := url.Parse(s); err != nil || u.Scheme == "" {
			out = append(out, Violation{Rule: "uri", Description: "value must be a valid URI", Value: s})
		}
	}

	if prefix, ok := ops["prefix"].(string); ok && !strings.HasPrefix(s, prefix) {
		out = append(out, Violation{Rule: "prefix", Description: fmt.Sprintf("string must have prefix %q", prefix), Value: s})
	}
	if suffix, ok := ops["suffix"].(string); ok && !strings.HasSuffix(s, suffix) {
		out = append(out, Violation{Rule: "suffix", Description: fmt.Sprintf("string must have suffix %q", suffix), Value: s})
	}
	if sub, ok := ops["contains"].(string); ok && !strings.Contains(s, sub) {
		out = append(out, Violation{Rule: "contains", Description: fmt.Sprintf("string must contain %q", sub), Value: s})
	}
	if sub, ok := ops["not_contains"].(string); ok && strings.Contains(s, sub) {
		out = append(out, Violation{Rule: "not_contains", Description: fmt.Sprintf("string must not contain %q", sub), Value: s})
	}

	if allowed, ok := ops["in"]; ok {
		if vals := toStringSlice(allowed); len(vals) > 0 && !containsString(vals, s) {
			out = append(out, Violation{Rule: "in", Description: fmt.Sprintf("value must be one of %v", vals), Value: s})
		}
	}
	if banned, ok := ops["not_in"]; ok {
		if vals := toStringSlice(banned); containsString(vals, s) {
			out = append(out, Violation{Rule: "not_in", Description: fmt.Sprintf("value must not be one of %v", vals), Value: s})
		}
	}

	return out
}

// checkNumber применяет числовые операции
func (e *Engine) checkNumber(ops map[string]any, value any) []Violation {
	f, ok := toFloat(value)
	if !ok {
		return []Violation{{
			Rule:        "type",
			Description: "value must be a number",
			Value:       value,
		}}
	}

	if ignoreEmpty(ops) && f == 0 {
		return nil
	}

	var out []Violation
	if c, ok := opFloat(ops, "const"); ok && f != c {
		out = append(out, Violation{Rule: "const", Description: fmt.Sprintf("value must equal %v", c), Value: f})
	}
	if n, ok := opFloat(ops, "gt"); ok && !(f > n) {
		out = append(out, Violation{Rule: "gt", Description: fmt.Sprintf("value must be greater than %v", n), Value: f})
	}
	if n, ok := opFloat(ops, "gte"); ok && !(f >= n) {
		out = append(out, Violation{Rule: "gte", Description: fmt.Sprintf("value must be greater than or equal to %v", n), Value: f})
	}
	if n, ok := opFloat(ops, "lt"); ok && !(f < n) {
		out = append(out, Violation{Rule: "lt", Description: fmt.Sprintf("value must be less than %v", n), Value: f})
	}
	if n, ok := opFloat(ops, "lte"); ok && !(f <= n) {
		out = append(out, Violation{Rule: "lte", Description: fmt.Sprintf("value must be less than or equal to %v", n), Value: f})
	}

	if allowed, ok := ops["in"].([]any); ok && len(allowed) > 0 {
		if !containsNumber(allowed, f) {
			out = append(out, Violation{Rule: "in", Description: fmt.Sprintf("value must be one of %v", allowed), Value: f})
		}
	}
	if banned, ok := ops["not_in"].([]any); ok {
		if containsNumber(banned, f) {
			out = append(out, Violation{Rule: "not_in", Description: fmt.Sprintf("value must not be one of %v", banned), Value: f})
		}
	}

	return out
}

// checkBool применяет const к булеву значению
func (e *Engine) checkBool(ops map[string]any, value any) []Violation {
	b, ok := value.(bool)
	if !ok {
		return []Violation{{Rule: "type", Description: "value must be a bool", Value: value}}
	}
	if want, ok := ops["const"].(bool); ok && b != want {
		return []Violation{{Rule: "const", Description: fmt.Sprintf("value must equal %v", want), Value: b}}
	}
	return nil
}

// checkEnum проверяет enum по именам и номерам, зафиксированным в IR
func (e *Engine) checkEnum(ops map[string]any, value any) []Violation {
	var out []Violation

	matches := func(allowed []any) bool {
		for _, a := range allowed {
			if af, aok := toFloat(a); aok {
				if vf, vok := toFloat(value); vok && vf == af {
					return true
				}
			}
			if asString(a) == asString(value) {
				return true
			}
		}
		return false
	}

	if isTrue(ops["defined_only"]) {
		defined, _ := ops["defined_values"].([]any)
		if !matches(defined) {
			out = append(out, Violation{Rule: "defined_only", Description: "value must be a defined enum value", Value: value})
		}
	}
	if allowed, ok := ops["in"].([]any); ok && len(allowed) > 0 && !matches(allowed) {
		out = append(out, Violation{Rule: "in", Description: fmt.Sprintf("value must be one of %v", allowed), Value: value})
	}
	if banned, ok := ops["not_in"].([]any); ok && matches(banned) {
		out = append(out, Violation{Rule: "not_in", Description: fmt.Sprintf("value must not be one of %v", banned), Value: value})
	}
	return out
}

// checkTimestamp минимальная проверка временных меток RFC3339
func (e *Engine) checkTimestamp(ops map[string]any, value any) []Violation {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return []Violation{{Rule: "type", Description: "value must be an RFC 3339 timestamp", Value: s}}
	}

	var out []Violation
	now := time.Now()
	if isTrue(ops["lt_now"]) && !ts.Before(now) {
		out = append(out, Violation{Rule: "lt_now", Description: "timestamp must be in the past", Value: s})
	}
	if isTrue(ops["gt_now"]) && !ts.After(now) {
		out = append(out, Violation{Rule: "gt_now", Description: "timestamp must be in the future", Value: s})
	}
	return out
}

// checkDuration минимальная проверка длительностей в protojson-форме ("1.5s")
func (e *Engine) checkDuration(ops map[string]any, value any) []Violation {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return []Violation{{Rule: "type", Description: "value must be a duration", Value: s}}
	}

	var out []Violation
	if n, ok := opFloat(ops, "gt"); ok && !(d.Seconds() > n) {
		out = append(out, Violation{Rule: "gt", Description: fmt.Sprintf("duration must be greater than %vs", n), Value: s})
	}
	if n, ok := opFloat(ops, "lt"); ok && !(d.Seconds() < n) {
		out = append(out, Violation{Rule: "lt", Description: fmt.Sprintf("duration must be less than %vs", n), Value: s})
	}
	return out
}

// --- helpers ---

func opInt(ops map[string]any, key string) (int, bool) {
	v, ok := ops[key]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

func opFloat(ops map[string]any, key string) (float64, bool) {
	v, ok := ops[key]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func ignoreEmpty(ops map[string]any) bool {
	return isTrue(ops["ignore_empty"])
}

func isTrue(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func containsNumber(list []any, f float64) bool {
	for _, item := range list {
		if n, ok := toFloat(item); ok && n == f {
			return true
		}
	}
	return false
}

// isIPv4 требует ровно четыре октета в диапазоне [0,255]
func isIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

var hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func isHostname(s string) bool {
	return len(s) <= 253 && hostnamePattern.MatchString(s)
}

// canonicalJSON сериализует значение в канонический JSON для сравнения
func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
