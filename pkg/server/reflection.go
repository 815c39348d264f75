package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"protomock/pkg/dispatch"
)

// reflectionHandler отвечает на reflection-запросы по pre-generated
// набору дескрипторов. Поддерживаются list services, file by filename и
// file containing symbol в JSON-виде; бинарные reflection-запросы на
// JSON-endpoint отклоняются с 415.
type reflectionHandler struct {
	set *descriptorpb.FileDescriptorSet

	byFilename map[string]*descriptorpb.FileDescriptorProto
	bySymbol   map[string]*descriptorpb.FileDescriptorProto
	services   []string
}

func newReflectionHandler(set *descriptorpb.FileDescriptorSet) *reflectionHandler {
	h := &reflectionHandler{
		set:        set,
		byFilename: make(map[string]*descriptorpb.FileDescriptorProto),
		bySymbol:   make(map[string]*descriptorpb.FileDescriptorProto),
	}

	for _, file := range set.GetFile() {
		h.byFilename[file.GetName()] = file
		pkg := file.GetPackage()

		qualify := func(name string) string {
			if pkg == "" {
				return name
			}
			return pkg + "." + name
		}

		for _, svc := range file.GetService() {
			fqn := qualify(svc.GetName())
			h.bySymbol[fqn] = file
			h.services = append(h.services, fqn)
			for _, mtd := range svc.GetMethod() {
				h.bySymbol[fqn+"."+mtd.GetName()] = file
			}
		}
		for _, msg := range file.GetMessageType() {
			h.indexMessage(qualify(msg.GetName()), msg, file)
		}
		for _, enum := range file.GetEnumType() {
			h.bySymbol[qualify(enum.GetName())] = file
		}
	}

	return h
}

func (h *reflectionHandler) indexMessage(fqn string, msg *descriptorpb.DescriptorProto, file *descriptorpb.FileDescriptorProto) {
	h.bySymbol[fqn] = file
	for _, nested := range msg.GetNestedType() {
		h.indexMessage(fqn+"."+nested.GetName(), nested, file)
	}
	for _, enum := range msg.GetEnumType() {
		h.bySymbol[fqn+"."+enum.GetName()] = file
	}
}

// reflectionRequest JSON-форма reflection-запроса
type reflectionRequest struct {
	ListServices         *string `json:"list_services,omitempty"`
	FileByFilename       string  `json:"file_by_filename,omitempty"`
	FileContainingSymbol string  `json:"file_containing_symbol,omitempty"`
}

func (h *reflectionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Бинарные reflection-запросы этому endpoint не по адресу
	if protocol := dispatch.DetectProtocol(r.Header.Get("Content-Type")); protocol != dispatch.ProtocolConnect {
		writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type",
			"binary reflection is not supported on this endpoint")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	method := parts[len(parts)-1]
	if method != "ServerReflectionInfo" {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown reflection method "+method)
		return
	}

	var req reflectionRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_argument", "invalid reflection request")
			return
		}
	}

	switch {
	case req.ListServices != nil:
		h.writeServices(w)
	case req.FileByFilename != "":
		file, ok := h.byFilename[req.FileByFilename]
		if !ok {
			writeJSONError(w, http.StatusNotFound, "not_found", "file not found: "+req.FileByFilename)
			return
		}
		h.writeFile(w, file)
	case req.FileContainingSymbol != "":
		file, ok := h.bySymbol[req.FileContainingSymbol]
		if !ok {
			writeJSONError(w, http.StatusNotFound, "not_found", "symbol not found: "+req.FileContainingSymbol)
			return
		}
		h.writeFile(w, file)
	default:
		writeJSONError(w, http.StatusBadRequest, "invalid_argument", "empty reflection request")
	}
}

func (h *reflectionHandler) writeServices(w http.ResponseWriter) {
	services := make([]map[string]string, 0, len(h.services))
	for _, name := range h.services {
		services = append(services, map[string]string{"name": name})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"list_services_response": map[string]any{"service": services},
	})
}

func (h *reflectionHandler) writeFile(w http.ResponseWriter, file *descriptorpb.FileDescriptorProto) {
	raw, err := proto.Marshal(file)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "failed to marshal descriptor")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"file_descriptor_response": map[string]any{
			"file_descriptor_proto": []string{base64.StdEncoding.EncodeToString(raw)},
		},
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
	})
}
