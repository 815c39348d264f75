// Package validation извлекает ограничения из графа дескрипторов в
// промежуточное представление (IR) и проверяет сообщения по нему.
// Поддерживаются оба диалекта аннотаций: PGV и protovalidate.
package validation

// Source провенанс ограничения
type Source string

const (
	SourcePGV           Source = "pgv"
	SourceProtovalidate Source = "protovalidate"
	SourceProto         Source = "proto"
)

// FieldConstraint ограничение одного поля.
// Ops - набор операций, специфичный для Kind.
type FieldConstraint struct {
	Kind      string         `yaml:"kind" json:"kind"` // string, number, repeated, presence, enum, cel, bytes, map, timestamp, duration, any, bool
	Ops       map[string]any `yaml:"ops" json:"ops"`
	FieldPath string         `yaml:"field_path" json:"field_path"`
	FieldType string         `yaml:"field_type" json:"field_type"`
	Source    Source         `yaml:"source" json:"source"`
}

// OneofConstraint ограничение oneof-группы
type OneofConstraint struct {
	Name     string   `yaml:"name" json:"name"`
	Fields   []string `yaml:"fields" json:"fields"`
	Required bool     `yaml:"required" json:"required"`
	Source   Source   `yaml:"source" json:"source"`
}

// CELRule одно CEL-правило
type CELRule struct {
	ID         string `yaml:"id,omitempty" json:"id,omitempty"`
	Expression string `yaml:"expression" json:"expression"`
	Message    string `yaml:"message,omitempty" json:"message,omitempty"`
}

// MessageConstraint ограничения уровня сообщения
type MessageConstraint struct {
	CEL    []CELRule `yaml:"cel,omitempty" json:"cel,omitempty"`
	Skip   bool      `yaml:"skip,omitempty" json:"skip,omitempty"`
	Source Source    `yaml:"source" json:"source"`
}

// IR распилированный набор ограничений одного типа сообщения.
// Чистые данные: сериализуется в YAML/JSON без потерь.
type IR struct {
	Fields  []FieldConstraint  `yaml:"fields,omitempty" json:"fields,omitempty"`
	Oneofs  []OneofConstraint  `yaml:"oneofs,omitempty" json:"oneofs,omitempty"`
	Message *MessageConstraint `yaml:"message,omitempty" json:"message,omitempty"`
}

// Empty сообщает, что в IR нет ни одного правила
func (ir *IR) Empty() bool {
	return ir == nil || (len(ir.Fields) == 0 && len(ir.Oneofs) == 0 && ir.Message == nil)
}

// Violation одно нарушение ограничения
type Violation struct {
	Field       string `json:"field"`
	Description string `json:"description"`
	Rule        string `json:"rule"`
	Value       any    `json:"value,omitempty"`
}

// Result результат проверки сообщения
type Result struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations,omitempty"`
}

func ok() Result {
	return Result{OK: true}
}
