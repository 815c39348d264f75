package schema

import (
	"strings"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// StreamKind форма вызова метода
type StreamKind int

const (
	KindUnary StreamKind = iota
	KindServerStream
	KindClientStream
	KindBidi
)

func (k StreamKind) String() string {
	switch k {
	case KindServerStream:
		return "server_stream"
	case KindClientStream:
		return "client_stream"
	case KindBidi:
		return "bidi_stream"
	default:
		return "unary"
	}
}

// Method строка таблицы методов: всё, что нужно диспетчеру для вызова
type Method struct {
	Service      *Service
	Name         string
	InputType    string
	OutputType   string
	ClientStream bool
	ServerStream bool
	RuleKey      string

	Input  protoreflect.MessageDescriptor
	Output protoreflect.MessageDescriptor
}

// Kind возвращает форму вызова по паре stream-флагов
func (m *Method) Kind() StreamKind {
	switch {
	case m.ClientStream && m.ServerStream:
		return KindBidi
	case m.ClientStream:
		return KindClientStream
	case m.ServerStream:
		return KindServerStream
	default:
		return KindUnary
	}
}

// Procedure возвращает путь метода: /<fqsn>/<method>
func (m *Method) Procedure() string {
	return "/" + m.Service.FullName + "/" + m.Name
}

// Service таблица методов одного сервиса
type Service struct {
	Package  string
	Name     string
	FullName string
	Methods  []*Method
}

// Registry таблица сервисов, построенная по графу дескрипторов
type Registry struct {
	services    []*Service
	byProcedure map[string]*Method
}

// NewRegistry строит таблицу сервисов из графа
func NewRegistry(g *Graph) *Registry {
	r := &Registry{
		byProcedure: make(map[string]*Method),
	}

	for _, si := range g.Services {
		svc := &Service{
			Package:  si.Package,
			Name:     si.Name,
			FullName: si.FullName,
		}
		for _, mi := range si.Methods {
			m := &Method{
				Service:      svc,
				Name:         mi.Name,
				InputType:    mi.InputType,
				OutputType:   mi.OutputType,
				ClientStream: mi.ClientStream,
				ServerStream: mi.ServerStream,
				RuleKey:      mi.RuleKey,
			}
			m.Input, _ = g.Descriptor(mi.InputType)
			m.Output, _ = g.Descriptor(mi.OutputType)
			svc.Methods = append(svc.Methods, m)
			r.byProcedure[m.Procedure()] = m
		}
		r.services = append(r.services, svc)
	}

	return r
}

// Services возвращает все сервисы
func (r *Registry) Services() []*Service {
	return r.services
}

// ServiceNames возвращает полные имена всех сервисов
func (r *Registry) ServiceNames() []string {
	names := make([]string, 0, len(r.services))
	for _, s := range r.services {
		names = append(names, s.FullName)
	}
	return names
}

// LookupProcedure ищет метод по пути "/<fqsn>/<method>"
func (r *Registry) LookupProcedure(path string) (*Method, bool) {
	m, ok := r.byProcedure[path]
	if ok {
		return m, true
	}
	// Терпимость к отсутствию ведущего слэша
	if !strings.HasPrefix(path, "/") {
		m, ok = r.byProcedure["/"+path]
	}
	return m, ok
}

// Lookup ищет метод по имени сервиса и метода
func (r *Registry) Lookup(service, method string) (*Method, bool) {
	return r.LookupProcedure("/" + service + "/" + method)
}
