package validation

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"protomock/pkg/cache"
	"protomock/pkg/fieldpath"
	"protomock/pkg/logger"
)

// Options настройки движка валидации
type Options struct {
	// EnforceMessageCEL включает message-level CEL правила (experimental)
	EnforceMessageCEL bool
	// RegexCacheEntries размер кэша скомпилированных регулярок
	RegexCacheEntries int
}

// Engine проверяет сообщения по IR. Безопасен для параллельного использования.
type Engine struct {
	enforceMessageCEL bool
	regexes           *cache.MemoryCache
	celPrograms       *cache.MemoryCache
}

// NewEngine создаёт движок валидации
func NewEngine(opts Options) *Engine {
	entries := opts.RegexCacheEntries
	if entries <= 0 {
		entries = 1024
	}
	return &Engine{
		enforceMessageCEL: opts.EnforceMessageCEL,
		regexes:           cache.NewMemoryCache(&cache.Options{MaxEntries: entries}),
		celPrograms:       cache.NewMemoryCache(&cache.Options{MaxEntries: entries}),
	}
}

// Close освобождает ресурсы движка
func (e *Engine) Close() {
	e.regexes.Close()
	e.celPrograms.Close()
}

// compileRegex возвращает регулярку из кэша по ключу (pattern, flags)
func (e *Engine) compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	key := pattern + "\x00" + flags
	if v, ok := e.regexes.Get(key); ok {
		if re, ok := v.(*regexp.Regexp); ok {
			return re, nil
		}
		if err, ok := v.(error); ok {
			return nil, err
		}
	}

	expr := pattern
	if flags != "" {
		expr = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		e.regexes.Set(key, err)
		return nil, err
	}
	e.regexes.Set(key, re)
	return re, nil
}

// compileCELCached компилирует выражение с кэшированием.
// Ошибки разбора отключают правило: повторно не компилируем и не применяем.
func (e *Engine) compileCELCached(expression string) celExpr {
	if v, ok := e.celPrograms.Get(expression); ok {
		if expr, ok := v.(celExpr); ok {
			return expr
		}
		return nil
	}
	expr, err := CompileCEL(expression)
	if err != nil {
		logger.Log.Warn("Disabling CEL rule: parse error", "expression", expression, "error", err)
		e.celPrograms.Set(expression, false)
		return nil
	}
	e.celPrograms.Set(expression, expr)
	return expr
}

// Validate проверяет сообщение по IR и накапливает все нарушения
func (e *Engine) Validate(ir *IR, msg map[string]any) Result {
	if ir.Empty() {
		return ok()
	}

	var violations []Violation

	for i := range ir.Fields {
		violations = append(violations, e.checkField(&ir.Fields[i], msg)...)
	}

	for i := range ir.Oneofs {
		violations = append(violations, e.checkOneof(&ir.Oneofs[i], msg)...)
	}

	if mc := ir.Message; mc != nil && !mc.Skip && e.enforceMessageCEL {
		violations = append(violations, e.checkMessageCEL(mc, msg)...)
	}

	if len(violations) == 0 {
		return ok()
	}
	return Result{OK: false, Violations: violations}
}

func (e *Engine) checkField(fc *FieldConstraint, msg map[string]any) []Violation {
	value, present := fieldpath.GetField(msg, fc.FieldPath)
	if !present || value == nil {
		if fc.Kind == "presence" && isTrue(fc.Ops["required"]) {
			return []Violation{{
				Field:       fc.FieldPath,
				Rule:        "required",
				Description: "value is required",
			}}
		}
		return nil
	}
	if fc.Kind == "presence" {
		return nil
	}

	if fc.Kind == "repeated" {
		return e.checkRepeated(fc, value)
	}
	if fc.Kind == "map" {
		return e.checkMap(fc, value)
	}

	// Скалярное ограничение на массив применяется поэлементно
	if list, isList := value.([]any); isList {
		var out []Violation
		for i, item := range list {
			for _, v := range e.checkScalar(fc, item) {
				v.Field = fmt.Sprintf("%s[%d]", fc.FieldPath, i)
				out = append(out, v)
			}
		}
		return out
	}

	out := e.checkScalar(fc, value)
	for i := range out {
		out[i].Field = fc.FieldPath
	}
	return out
}

func (e *Engine) checkScalar(fc *FieldConstraint, value any) []Violation {
	switch fc.Kind {
	case "string":
		return e.checkString(fc.Ops, value)
	case "bytes":
		return e.checkBytes(fc.Ops, value)
	case "number":
		return e.checkNumber(fc.Ops, value)
	case "bool":
		return e.checkBool(fc.Ops, value)
	case "enum":
		return e.checkEnum(fc.Ops, value)
	case "timestamp":
		return e.checkTimestamp(fc.Ops, value)
	case "duration":
		return e.checkDuration(fc.Ops, value)
	case "cel":
		return e.checkFieldCEL(fc.Ops, value)
	case "any":
		return nil
	default:
		return nil
	}
}

// checkBytes проверяет байтовые поля; wire-форма - base64 строка
func (e *Engine) checkBytes(ops map[string]any, value any) []Violation {
	s, ok := value.(string)
	if !ok {
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw = []byte(s)
	}

	if ignoreEmpty(ops) && len(raw) == 0 {
		return nil
	}

	var out []Violation
	if n, ok := opInt(ops, "min_len"); ok && len(raw) < n {
		out = append(out, Violation{
			Rule:        "min_len",
			Description: fmt.Sprintf("bytes length must be at least %d", n),
			Value:       len(raw),
		})
	}
	if n, ok := opInt(ops, "max_len"); ok && len(raw) > n {
		out = append(out, Violation{
			Rule:        "max_len",
			Description: fmt.Sprintf("bytes length must be at most %d", n),
			Value:       len(raw),
		})
	}
	if n, ok := opInt(ops, "len"); ok && len(raw) != n {
		out = append(out, Violation{
			Rule:        "len",
			Description: fmt.Sprintf("bytes length must be exactly %d", n),
			Value:       len(raw),
		})
	}
	return out
}

func (e *Engine) checkRepeated(fc *FieldConstraint, value any) []Violation {
	list, ok := value.([]any)
	if !ok {
		return []Violation{{
			Field:       fc.FieldPath,
			Rule:        "type",
			Description: "value must be a list",
			Value:       value,
		}}
	}

	// ignore_empty на repeated: пустой список пропускается целиком
	if ignoreEmpty(fc.Ops) && len(list) == 0 {
		return nil
	}

	var out []Violation
	if n, ok := opInt(fc.Ops, "min_items"); ok && len(list) < n {
		out = append(out, Violation{
			Field:       fc.FieldPath,
			Rule:        "min_items",
			Description: fmt.Sprintf("list must have at least %d items", n),
			Value:       len(list),
		})
	}
	if n, ok := opInt(fc.Ops, "max_items"); ok && len(list) > n {
		out = append(out, Violation{
			Field:       fc.FieldPath,
			Rule:        "max_items",
			Description: fmt.Sprintf("list must have at most %d items", n),
			Value:       len(list),
		})
	}

	if isTrue(fc.Ops["unique"]) {
		seen := map[string]int{}
		var dups []string
		for _, item := range list {
			key := canonicalJSON(item)
			seen[key]++
			if seen[key] == 2 {
				dups = append(dups, key)
			}
		}
		if len(dups) > 0 {
			sort.Strings(dups)
			out = append(out, Violation{
				Field:       fc.FieldPath,
				Rule:        "unique",
				Description: fmt.Sprintf("list items must be unique; duplicates: %s", strings.Join(dups, ", ")),
			})
		}
	}

	// Поэлементные ограничения
	if items, ok := fc.Ops["items"].(map[string]any); ok {
		itemFC := &FieldConstraint{
			Kind:   asString(items["kind"]),
			Source: fc.Source,
		}
		if ops, ok := items["ops"].(map[string]any); ok {
			itemFC.Ops = ops
		}
		for i, item := range list {
			for _, v := range e.checkScalar(itemFC, item) {
				v.Field = fmt.Sprintf("%s[%d]", fc.FieldPath, i)
				out = append(out, v)
			}
		}
	}

	return out
}

func (e *Engine) checkMap(fc *FieldConstraint, value any) []Violation {
	m, ok := value.(map[string]any)
	if !ok {
		return []Violation{{
			Field:       fc.FieldPath,
			Rule:        "type",
			Description: "value must be a map",
			Value:       value,
		}}
	}
	if ignoreEmpty(fc.Ops) && len(m) == 0 {
		return nil
	}

	var out []Violation
	if n, ok := opInt(fc.Ops, "min_pairs"); ok && len(m) < n {
		out = append(out, Violation{
			Field:       fc.FieldPath,
			Rule:        "min_pairs",
			Description: fmt.Sprintf("map must have at least %d pairs", n),
			Value:       len(m),
		})
	}
	if n, ok := opInt(fc.Ops, "max_pairs"); ok && len(m) > n {
		out = append(out, Violation{
			Field:       fc.FieldPath,
			Rule:        "max_pairs",
			Description: fmt.Sprintf("map must have at most %d pairs", n),
			Value:       len(m),
		})
	}
	return out
}

// checkFieldCEL применяет CEL-правила уровня поля: this = значение поля
func (e *Engine) checkFieldCEL(ops map[string]any, value any) []Violation {
	rules, ok := ops["rules"].([]any)
	if !ok {
		return nil
	}

	var out []Violation
	for _, raw := range rules {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		expression := asString(rule["expression"])
		if expression == "" {
			continue
		}
		prog := e.compileCELCached(expression)
		if prog == nil {
			continue
		}
		if !EvalCEL(prog, value) {
			desc := asString(rule["message"])
			if desc == "" {
				desc = fmt.Sprintf("value must satisfy expression %q", expression)
			}
			out = append(out, Violation{Rule: "cel", Description: desc, Value: value})
		}
	}
	return out
}

func (e *Engine) checkOneof(oc *OneofConstraint, msg map[string]any) []Violation {
	var present int
	for _, field := range oc.Fields {
		if v, ok := fieldpath.GetField(msg, field); ok && v != nil {
			present++
		}
	}

	if present > 1 {
		return []Violation{{
			Field:       oc.Name,
			Rule:        "oneof_multiple",
			Description: fmt.Sprintf("at most one of %s may be set", strings.Join(oc.Fields, ", ")),
			Value:       present,
		}}
	}
	if oc.Required && present == 0 {
		return []Violation{{
			Field:       oc.Name,
			Rule:        "oneof_required",
			Description: fmt.Sprintf("one of %s is required", strings.Join(oc.Fields, ", ")),
		}}
	}
	return nil
}

// checkMessageCEL применяет CEL-правила уровня сообщения: this = сообщение
func (e *Engine) checkMessageCEL(mc *MessageConstraint, msg map[string]any) []Violation {
	var out []Violation
	for _, rule := range mc.CEL {
		prog := e.compileCELCached(rule.Expression)
		if prog == nil {
			continue
		}
		if !EvalCEL(prog, msg) {
			desc := rule.Message
			if desc == "" {
				desc = fmt.Sprintf("message must satisfy expression %q", rule.Expression)
			}
			out = append(out, Violation{Rule: "cel", Description: desc})
		}
	}
	return out
}
