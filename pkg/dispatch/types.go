// Package dispatch реализует протоколо-независимое ядро обработки вызова:
// нормализованный запрос, подбор правила, валидацию входа и все четыре
// формы стриминга поверх единого контракта.
package dispatch

import (
	"strings"
)

// Protocol семейство wire-протокола
type Protocol string

const (
	ProtocolConnect Protocol = "connect"
	ProtocolGRPCWeb Protocol = "grpc-web"
	ProtocolGRPC    Protocol = "grpc"
)

// DetectProtocol классифицирует протокол по content-type.
// Неизвестные и пустые типы относятся к json-варианту.
func DetectProtocol(contentType string) Protocol {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(ct, "application/grpc-web"):
		return ProtocolGRPCWeb
	case strings.HasPrefix(ct, "application/grpc"):
		return ProtocolGRPC
	default:
		// application/connect+*, application/json, пусто, неизвестное
		return ProtocolConnect
	}
}

// Metadata метаданные запроса: имя в нижнем регистре -> строка или срез строк
type Metadata map[string]any

// NewMetadata нормализует заголовки запроса: ключи в нижний регистр,
// псевдозаголовки отбрасываются, одноэлементные срезы сворачиваются в скаляр.
func NewMetadata(headers map[string][]string, protocol Protocol, timeoutMS string) Metadata {
	md := make(Metadata, len(headers)+2)
	for name, values := range headers {
		if strings.HasPrefix(name, ":") {
			continue
		}
		key := strings.ToLower(name)
		switch len(values) {
		case 0:
			continue
		case 1:
			md[key] = values[0]
		default:
			list := make([]any, len(values))
			for i, v := range values {
				list[i] = v
			}
			md[key] = list
		}
	}
	md["x-connect-protocol"] = string(protocol)
	if timeoutMS != "" {
		md["connect-timeout-ms"] = timeoutMS
	}
	return md
}

// Get ищет значение заголовка без учёта регистра
func (md Metadata) Get(name string) (any, bool) {
	if v, ok := md[name]; ok {
		return v, true
	}
	lower := strings.ToLower(name)
	if v, ok := md[lower]; ok {
		return v, true
	}
	for k, v := range md {
		if strings.ToLower(k) == lower {
			return v, true
		}
	}
	return nil, false
}

// GetString возвращает первое строковое значение заголовка
func (md Metadata) GetString(name string) string {
	v, ok := md.Get(name)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []any:
		if len(s) > 0 {
			if first, ok := s[0].(string); ok {
				return first
			}
		}
	}
	return ""
}

// Request нормализованный запрос: единый вход диспетчера для всех протоколов
type Request struct {
	Service        string
	Method         string
	RuleKey        string
	Metadata       Metadata
	Data           map[string]any
	RequestType    string
	ResponseType   string
	RequestStream  bool
	ResponseStream bool
	Protocol       Protocol
}

// Response нормализованный успешный ответ
type Response struct {
	Data     any
	Metadata map[string]string
	Trailer  map[string]string
}
