// Package schema загружает .proto файлы в неизменяемый граф дескрипторов
// и строит по нему таблицу сервисов.
package schema

import (
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// FieldInfo описывает поле сообщения. Имена сохраняются как в исходнике.
type FieldInfo struct {
	Name           string
	JSONName       string
	Kind           string // string, bytes, bool, enum, message, int32, ...
	TypeName       string // fqn для message/enum полей
	Number         int32
	Repeated       bool
	IsMap          bool
	Oneof          string // имя oneof-группы, если поле в неё входит
	Proto3Optional bool
	Options        map[string]any // "(ext)" -> дерево
	FlatOptions    map[string]any // "(ext.path)" -> значение
}

// OneofInfo описывает oneof-группу
type OneofInfo struct {
	Name        string
	Fields      []string
	Synthetic   bool
	Options     map[string]any
	FlatOptions map[string]any
}

// MessageInfo описывает тип сообщения
type MessageInfo struct {
	Name        string // fully-qualified, без ведущей точки
	Fields      []*FieldInfo
	fieldIndex  map[string]*FieldInfo
	Oneofs      []*OneofInfo
	Options     map[string]any
	FlatOptions map[string]any
}

// Field возвращает поле по имени
func (m *MessageInfo) Field(name string) (*FieldInfo, bool) {
	f, ok := m.fieldIndex[name]
	return f, ok
}

// EnumInfo описывает enum: значения по имени и по номеру
type EnumInfo struct {
	Name     string
	ByName   map[string]int32
	ByNumber map[int32]string
}

// MethodInfo описывает метод сервиса
type MethodInfo struct {
	Name         string
	InputType    string
	OutputType   string
	ClientStream bool
	ServerStream bool
	RuleKey      string
}

// ServiceInfo описывает сервис
type ServiceInfo struct {
	Package  string
	Name     string
	FullName string
	Methods  []*MethodInfo
}

// SkippedFile файл, пропущенный при загрузке
type SkippedFile struct {
	File   string
	Reason string
}

// DroppedMethod метод, выброшенный из-за неразрешимого типа
type DroppedMethod struct {
	Service string
	Method  string
	Reason  string
}

// Report отчёт загрузчика
type Report struct {
	Loaded         []string
	Skipped        []SkippedFile
	DroppedMethods []DroppedMethod
}

// Graph неизменяемый снапшот загруженных схем
type Graph struct {
	Messages map[string]*MessageInfo
	Enums    map[string]*EnumInfo
	Services []*ServiceInfo

	descriptors map[string]protoreflect.MessageDescriptor
}

// NewGraph создаёт пустой граф
func NewGraph() *Graph {
	return &Graph{
		Messages:    make(map[string]*MessageInfo),
		Enums:       make(map[string]*EnumInfo),
		descriptors: make(map[string]protoreflect.MessageDescriptor),
	}
}

// Descriptor возвращает protoreflect-дескриптор типа сообщения
func (g *Graph) Descriptor(fqn string) (protoreflect.MessageDescriptor, bool) {
	d, ok := g.descriptors[strings.TrimPrefix(fqn, ".")]
	return d, ok
}

// RuleKey строит ключ правила: lowercase("<pkg>.<service>.<method>")
func RuleKey(pkg, service, method string) string {
	parts := make([]string, 0, 3)
	if pkg != "" {
		parts = append(parts, pkg)
	}
	parts = append(parts, service, method)
	return strings.ToLower(strings.Join(parts, "."))
}
