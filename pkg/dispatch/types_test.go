package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Property: классификация протокола по content-type
func TestDetectProtocol(t *testing.T) {
	tests := []struct {
		contentType string
		want        Protocol
	}{
		{"application/grpc", ProtocolGRPC},
		{"application/grpc+proto", ProtocolGRPC},
		{"application/grpc+json", ProtocolGRPC},
		{"application/grpc-web", ProtocolGRPCWeb},
		{"application/grpc-web+proto", ProtocolGRPCWeb},
		{"application/grpc-web-text", ProtocolGRPCWeb},
		{"application/json", ProtocolConnect},
		{"application/connect+proto", ProtocolConnect},
		{"application/connect+json", ProtocolConnect},
		{"", ProtocolConnect},
		{"text/plain", ProtocolConnect},
		{"APPLICATION/GRPC", ProtocolGRPC},
		{"  application/grpc-web+proto  ", ProtocolGRPCWeb},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectProtocol(tt.contentType))
		})
	}
}

func TestNewMetadata(t *testing.T) {
	headers := map[string][]string{
		"Authorization":   {"Bearer abc"},
		"X-Multi":         {"one", "two"},
		":path":           {"/svc/method"},
		":authority":      {"example.com"},
		"Content-Type":    {"application/json"},
	}

	md := NewMetadata(headers, ProtocolConnect, "1500")

	// Ключи в нижнем регистре, псевдозаголовки отброшены
	assert.Equal(t, "Bearer abc", md["authorization"])
	assert.NotContains(t, md, ":path")
	assert.NotContains(t, md, ":authority")

	// Многозначные остаются срезом
	assert.Equal(t, []any{"one", "two"}, md["x-multi"])

	assert.Equal(t, "connect", md["x-connect-protocol"])
	assert.Equal(t, "1500", md["connect-timeout-ms"])
}

func TestNewMetadata_NoTimeout(t *testing.T) {
	md := NewMetadata(nil, ProtocolGRPC, "")
	assert.Equal(t, "grpc", md["x-connect-protocol"])
	assert.NotContains(t, md, "connect-timeout-ms")
}

func TestMetadata_CaseInsensitiveGet(t *testing.T) {
	md := Metadata{"authorization": "token"}

	v, ok := md.Get("Authorization")
	assert.True(t, ok)
	assert.Equal(t, "token", v)

	assert.Equal(t, "token", md.GetString("AUTHORIZATION"))
	assert.Equal(t, "", md.GetString("missing"))
}

func TestMetadata_GetStringFromList(t *testing.T) {
	md := Metadata{"x-multi": []any{"first", "second"}}
	assert.Equal(t, "first", md.GetString("x-multi"))
}
