package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func testDescriptorSet() *descriptorpb.FileDescriptorSet {
	return &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{{
			Name:    proto.String("echo.proto"),
			Package: proto.String("echo"),
			MessageType: []*descriptorpb.DescriptorProto{
				{Name: proto.String("EchoRequest")},
				{Name: proto.String("EchoReply")},
			},
			Service: []*descriptorpb.ServiceDescriptorProto{{
				Name: proto.String("EchoService"),
				Method: []*descriptorpb.MethodDescriptorProto{{
					Name:       proto.String("Echo"),
					InputType:  proto.String(".echo.EchoRequest"),
					OutputType: proto.String(".echo.EchoReply"),
				}},
			}},
		}},
	}
}

func reflectionRequestBody(t *testing.T, payload string) *httptest.ResponseRecorder {
	t.Helper()
	h := newReflectionHandler(testDescriptorSet())

	req := httptest.NewRequest(http.MethodPost,
		"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo",
		strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestReflection_ListServices(t *testing.T) {
	rec := reflectionRequestBody(t, `{"list_services": ""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ListServicesResponse struct {
			Service []struct {
				Name string `json:"name"`
			} `json:"service"`
		} `json:"list_services_response"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.ListServicesResponse.Service, 1)
	assert.Equal(t, "echo.EchoService", body.ListServicesResponse.Service[0].Name)
}

func TestReflection_FileByFilename(t *testing.T) {
	rec := reflectionRequestBody(t, `{"file_by_filename": "echo.proto"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "file_descriptor_response")

	rec = reflectionRequestBody(t, `{"file_by_filename": "missing.proto"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReflection_FileContainingSymbol(t *testing.T) {
	for _, symbol := range []string{"echo.EchoService", "echo.EchoService.Echo", "echo.EchoRequest"} {
		rec := reflectionRequestBody(t, `{"file_containing_symbol": "`+symbol+`"}`)
		assert.Equal(t, http.StatusOK, rec.Code, "symbol %s", symbol)
	}

	rec := reflectionRequestBody(t, `{"file_containing_symbol": "echo.Nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReflection_BinaryRequestIs415(t *testing.T) {
	h := newReflectionHandler(testDescriptorSet())

	req := httptest.NewRequest(http.MethodPost,
		"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo", nil)
	req.Header.Set("Content-Type", "application/grpc+proto")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported_media_type")
}

func TestReflection_UnknownMethodIs404(t *testing.T) {
	h := newReflectionHandler(testDescriptorSet())

	req := httptest.NewRequest(http.MethodPost,
		"/grpc.reflection.v1.ServerReflection/SomethingElse", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}
