package rules

import (
	"fmt"
	"regexp"
	"strings"

	"protomock/pkg/cache"
	"protomock/pkg/fieldpath"
)

// Типизированный язык операторов для match/when выражений.
// Листья - либо скалярные литералы (равенство после строкового приведения),
// либо объекты ровно с одним распознанным оператором.

var operatorKeys = map[string]bool{
	"eq": true, "ne": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "contains": true, "regex": true,
	"exists": true, "not": true,
}

// matchRegexes кэш регулярок match-выражений; некорректный паттерн
// проваливает только свой лист
var matchRegexes = cache.NewMemoryCache(&cache.Options{MaxEntries: 512})

// Matcher вычисляет match/when выражения над запросом и метаданными
type Matcher struct {
	request  any
	metadata map[string]any
}

// NewMatcher создаёт matcher для одного вызова
func NewMatcher(request any, metadata map[string]any) *Matcher {
	return &Matcher{request: request, metadata: metadata}
}

// MatchTopLevel вычисляет верхнеуровневый match правила.
// nil-матч считается пройденным.
func (m *Matcher) MatchTopLevel(expr *MatchExpr) bool {
	if expr == nil {
		return true
	}
	for name, pred := range expr.Metadata {
		value, present := m.lookupMetadata(name)
		if !m.evalPredicate(pred, value, present) {
			return false
		}
	}
	for path, pred := range expr.Request {
		value, present := fieldpath.Get(m.request, path)
		if !m.evalPredicate(pred, value, present) {
			return false
		}
	}
	return true
}

// MatchWhen вычисляет when-выражение варианта ответа.
// Пути имеют префикс request. или metadata.; без префикса - путь в запросе.
func (m *Matcher) MatchWhen(when map[string]any) bool {
	if len(when) == 0 {
		return true
	}
	for path, pred := range when {
		var value any
		var present bool
		switch {
		case strings.HasPrefix(path, "metadata."):
			value, present = m.lookupMetadata(strings.TrimPrefix(path, "metadata."))
		case strings.HasPrefix(path, "request."):
			value, present = fieldpath.Get(m.request, strings.TrimPrefix(path, "request."))
		default:
			value, present = fieldpath.Get(m.request, path)
		}
		if !m.evalPredicate(pred, value, present) {
			return false
		}
	}
	return true
}

// lookupMetadata ищет заголовок без учёта регистра
func (m *Matcher) lookupMetadata(name string) (any, bool) {
	if v, ok := m.metadata[name]; ok {
		return v, true
	}
	lower := strings.ToLower(name)
	for k, v := range m.metadata {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

func (m *Matcher) evalPredicate(pred any, value any, present bool) bool {
	// Объект ровно с одним распознанным оператором
	if obj, ok := pred.(map[string]any); ok {
		if len(obj) == 1 {
			for op, operand := range obj {
				if operatorKeys[op] {
					return m.evalOperator(op, operand, value, present)
				}
			}
		}
		// Не операторный объект: структурное равенство
		return coerce(pred) == coerce(value)
	}

	// Скалярный литерал: равенство после строкового приведения
	if !present {
		return false
	}
	return coerce(pred) == coerce(value)
}

func (m *Matcher) evalOperator(op string, operand, value any, present bool) bool {
	switch op {
	case "eq":
		return present && coerce(operand) == coerce(value)
	case "ne":
		return !present || coerce(operand) != coerce(value)
	case "gt", "gte", "lt", "lte":
		return evalNumeric(op, operand, value, present)
	case "in":
		list, ok := operand.([]any)
		if !ok || !present {
			return false
		}
		for _, item := range list {
			if coerce(item) == coerce(value) {
				return true
			}
		}
		return false
	case "contains":
		return evalContains(operand, value, present)
	case "regex":
		return evalRegex(operand, value, present)
	case "exists":
		want, ok := operand.(bool)
		if !ok {
			want = true
		}
		got := present && value != nil
		return got == want
	case "not":
		return !m.evalPredicate(operand, value, present)
	default:
		return false
	}
}

// evalNumeric сравнивает числа; не-числа проваливают лист
func evalNumeric(op string, operand, value any, present bool) bool {
	if !present {
		return false
	}
	want, ok1 := toFloat(operand)
	got, ok2 := toFloat(value)
	if !ok1 || !ok2 {
		return false
	}
	switch op {
	case "gt":
		return got > want
	case "gte":
		return got >= want
	case "lt":
		return got < want
	case "lte":
		return got <= want
	}
	return false
}

// evalContains - подстрока для строк, членство для массивов
func evalContains(operand, value any, present bool) bool {
	if !present {
		return false
	}
	switch v := value.(type) {
	case string:
		return strings.Contains(v, coerce(operand))
	case []any:
		for _, item := range v {
			if coerce(item) == coerce(operand) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evalRegex(operand, value any, present bool) bool {
	if !present {
		return false
	}
	pattern, ok := operand.(string)
	if !ok {
		return false
	}

	if cached, ok := matchRegexes.Get(pattern); ok {
		re, ok := cached.(*regexp.Regexp)
		return ok && re.MatchString(coerce(value))
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		// Некорректный паттерн проваливает только этот лист
		matchRegexes.Set(pattern, false)
		return false
	}
	matchRegexes.Set(pattern, re)
	return re.MatchString(coerce(value))
}

// coerce приводит значение к строковой форме для сравнения
func coerce(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		// Целые числа без дробного хвоста
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%v", s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
