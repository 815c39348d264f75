package rules

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"protomock/pkg/fieldpath"
)

// StreamInfo контекст стриминга для подстановок stream.*
type StreamInfo struct {
	Index   int
	Total   int
	IsFirst bool
	IsLast  bool
}

// Utils набор утилит шаблонов; подменяется в тестах
type Utils struct {
	Now    func() string
	UUID   func() string
	Random func(min, max int) int
	Format func(tmpl string, args []any) string
}

// DefaultUtils возвращает боевые реализации утилит
func DefaultUtils() *Utils {
	return &Utils{
		Now: func() string {
			return time.Now().UTC().Format(time.RFC3339)
		},
		UUID: uuid.NewString,
		Random: func(min, max int) int {
			if max < min {
				min, max = max, min
			}
			return min + rand.Intn(max-min+1)
		},
		Format: func(tmpl string, args []any) string {
			var b strings.Builder
			rest := tmpl
			for _, arg := range args {
				idx := strings.Index(rest, "{}")
				if idx < 0 {
					break
				}
				b.WriteString(rest[:idx])
				b.WriteString(stringify(arg))
				rest = rest[idx+2:]
			}
			b.WriteString(rest)
			return b.String()
		},
	}
}

// RenderContext контексты подстановки одного вызова
type RenderContext struct {
	Request  any
	Metadata map[string]any
	Stream   *StreamInfo
	Utils    *Utils
}

var tokenPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)
var utilsCallPattern = regexp.MustCompile(`^utils\.(\w+)\((.*)\)$`)

// Render подставляет {{...}} во всех строковых листьях дерева.
// Ошибки вычисления не прерывают рендер: токен остаётся как есть.
func Render(value any, ctx *RenderContext) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Render(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Render(item, ctx)
		}
		return out
	case string:
		return renderString(v, ctx)
	default:
		return value
	}
}

// RenderTrailers рендерит трейлеры, приводя значения к строкам
func RenderTrailers(trailers map[string]any, ctx *RenderContext) map[string]string {
	if len(trailers) == 0 {
		return nil
	}
	out := make(map[string]string, len(trailers))
	for k, v := range trailers {
		if s, ok := v.(string); ok {
			out[k] = renderString(s, ctx)
			continue
		}
		out[k] = stringify(v)
	}
	return out
}

func renderString(s string, ctx *RenderContext) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		expr := strings.TrimSpace(token[2 : len(token)-2])
		if out, ok := evalToken(expr, ctx); ok {
			return out
		}
		return token
	})
}

func evalToken(expr string, ctx *RenderContext) (string, bool) {
	switch {
	case expr == "request":
		return stringify(ctx.Request), true
	case strings.HasPrefix(expr, "request."):
		v, ok := fieldpath.Get(ctx.Request, strings.TrimPrefix(expr, "request."))
		if !ok {
			// Отсутствующее значение рендерится пустой строкой
			return "", true
		}
		return stringify(v), true
	case strings.HasPrefix(expr, "metadata."):
		name := strings.TrimPrefix(expr, "metadata.")
		v, ok := lookupHeader(ctx.Metadata, name)
		if !ok {
			return "", true
		}
		return stringify(v), true
	case strings.HasPrefix(expr, "stream."):
		return evalStreamToken(strings.TrimPrefix(expr, "stream."), ctx.Stream)
	case strings.HasPrefix(expr, "utils."):
		return evalUtilsToken(expr, ctx)
	default:
		return "", false
	}
}

func evalStreamToken(field string, stream *StreamInfo) (string, bool) {
	if stream == nil {
		return "", true
	}
	switch field {
	case "index":
		return strconv.Itoa(stream.Index), true
	case "total":
		return strconv.Itoa(stream.Total), true
	case "isFirst":
		return strconv.FormatBool(stream.IsFirst), true
	case "isLast":
		return strconv.FormatBool(stream.IsLast), true
	default:
		return "", false
	}
}

func evalUtilsToken(expr string, ctx *RenderContext) (string, bool) {
	utils := ctx.Utils
	if utils == nil {
		utils = DefaultUtils()
	}

	m := utilsCallPattern.FindStringSubmatch(expr)
	if m == nil {
		// Допускаем вызовы без скобок: utils.now, utils.uuid
		switch expr {
		case "utils.now":
			return utils.Now(), true
		case "utils.uuid":
			return utils.UUID(), true
		}
		return "", false
	}

	fn := m[1]
	args := parseArgs(m[2], ctx)

	switch fn {
	case "now":
		return utils.Now(), true
	case "uuid":
		return utils.UUID(), true
	case "random":
		if len(args) != 2 {
			return "", false
		}
		min, ok1 := argInt(args[0])
		max, ok2 := argInt(args[1])
		if !ok1 || !ok2 {
			return "", false
		}
		return strconv.Itoa(utils.Random(min, max)), true
	case "format":
		if len(args) == 0 {
			return "", false
		}
		tmpl, ok := args[0].(string)
		if !ok {
			tmpl = stringify(args[0])
		}
		return utils.Format(tmpl, args[1:]), true
	default:
		return "", false
	}
}

// parseArgs разбирает список аргументов: булевы литералы становятся bool,
// числа - числами, остальное - строками без кавычек
func parseArgs(raw string, ctx *RenderContext) []any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var args []any
	for _, part := range splitArgs(raw) {
		part = strings.TrimSpace(part)
		switch {
		case part == "true":
			args = append(args, true)
		case part == "false":
			args = append(args, false)
		case len(part) >= 2 && (part[0] == '\'' || part[0] == '"') && part[len(part)-1] == part[0]:
			args = append(args, part[1:len(part)-1])
		default:
			if f, err := strconv.ParseFloat(part, 64); err == nil {
				args = append(args, f)
			} else if strings.HasPrefix(part, "request.") || strings.HasPrefix(part, "metadata.") {
				if out, ok := evalToken(part, ctx); ok {
					args = append(args, out)
				} else {
					args = append(args, part)
				}
			} else {
				args = append(args, part)
			}
		}
	}
	return args
}

// splitArgs режет по запятым верхнего уровня с учётом кавычек
func splitArgs(raw string) []string {
	var parts []string
	var b strings.Builder
	var quote byte
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case quote != 0:
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == ',':
			parts = append(parts, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	parts = append(parts, b.String())
	return parts
}

func argInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func lookupHeader(md map[string]any, name string) (any, bool) {
	if v, ok := md[name]; ok {
		return v, true
	}
	lower := strings.ToLower(name)
	for k, v := range md {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

// stringify приводит значение к строковой форме для подстановки
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case map[string]any, []any:
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Sprintf("%v", s)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", s)
	}
}
