// Package fieldpath реализует поиск значений по точечным путям внутри
// декодированного дерева сообщения. Поиск терпим к расхождению имён между
// дескриптором и ключами на проводе: пробуем точное имя, snake_case и
// camelCase формы.
package fieldpath

import (
	"strconv"
	"strings"
	"unicode"
)

// Get ищет значение по точечному пути ("user.id", "items.2.name").
// Возвращает (значение, true) при успехе.
func Get(tree any, path string) (any, bool) {
	if path == "" {
		return tree, true
	}
	cur := tree
	for _, seg := range strings.Split(path, ".") {
		var ok bool
		cur, ok = step(cur, seg)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetField ищет значение одного поля с учётом альтернативных форм имени
func GetField(tree any, name string) (any, bool) {
	return step(tree, name)
}

func step(cur any, seg string) (any, bool) {
	switch node := cur.(type) {
	case map[string]any:
		if v, ok := node[seg]; ok {
			return v, true
		}
		if alt := ToSnake(seg); alt != seg {
			if v, ok := node[alt]; ok {
				return v, true
			}
		}
		if alt := ToCamel(seg); alt != seg {
			if v, ok := node[alt]; ok {
				return v, true
			}
		}
		return nil, false
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(node) {
			return nil, false
		}
		return node[idx], true
	default:
		return nil, false
	}
}

// Has проверяет, что путь существует и значение не nil
func Has(tree any, path string) bool {
	v, ok := Get(tree, path)
	return ok && v != nil
}

// ToSnake переводит camelCase в snake_case
func ToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToCamel переводит snake_case в camelCase
func ToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
