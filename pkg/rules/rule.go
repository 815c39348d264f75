// Package rules загружает документы правил, подбирает вариант ответа по
// запросу и метаданным и подставляет шаблоны в выбранный ответ.
package rules

// MatchExpr верхнеуровневый матч правила
type MatchExpr struct {
	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Request  map[string]any `yaml:"request,omitempty" json:"request,omitempty"`
}

// ResponseOption один вариант ответа правила
type ResponseOption struct {
	When          map[string]any `yaml:"when,omitempty" json:"when,omitempty"`
	Body          any            `yaml:"body,omitempty" json:"body,omitempty"`
	Trailers      map[string]any `yaml:"trailers,omitempty" json:"trailers,omitempty"`
	StreamItems   []any          `yaml:"stream_items,omitempty" json:"stream_items,omitempty"`
	StreamDelayMs int            `yaml:"stream_delay_ms,omitempty" json:"stream_delay_ms,omitempty"`
	StreamLoop    bool           `yaml:"stream_loop,omitempty" json:"stream_loop,omitempty"`
	Priority      int            `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Rule документ правила одного метода
type Rule struct {
	Match     *MatchExpr       `yaml:"match,omitempty" json:"match,omitempty"`
	Responses []ResponseOption `yaml:"responses,omitempty" json:"responses,omitempty"`
}

// DefaultOption ответ движка по умолчанию: пустое тело и нулевой статус
func DefaultOption() *ResponseOption {
	return &ResponseOption{
		Body:     map[string]any{},
		Trailers: map[string]any{"grpc-status": "0"},
	}
}

// Index неизменяемый индекс правил по ключу
// lowercase("<pkg>.<service>.<method>")
type Index struct {
	rules map[string]*Rule
}

// NewIndex создаёт индекс из готовой карты
func NewIndex(rules map[string]*Rule) *Index {
	if rules == nil {
		rules = map[string]*Rule{}
	}
	return &Index{rules: rules}
}

// Get возвращает правило по ключу
func (i *Index) Get(key string) (*Rule, bool) {
	r, ok := i.rules[key]
	return r, ok
}

// Len возвращает число правил в индексе
func (i *Index) Len() int {
	return len(i.rules)
}

// Keys возвращает все ключи индекса
func (i *Index) Keys() []string {
	keys := make([]string, 0, len(i.rules))
	for k := range i.rules {
		keys = append(keys, k)
	}
	return keys
}
