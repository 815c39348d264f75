// Package server поднимает фасад RPC: объединённый порт (Connect + gRPC-Web +
// gRPC поверх одного HTTP/2 листенера) и нативный gRPC порт. Оба порта
// приводят вызовы к нормализованному контракту диспетчера.
package server

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// wireMessage обобщённый payload, проходящий через connect-обработчики.
// Конкретная схема задаётся кодеком метода, а не типом.
type wireMessage struct {
	data map[string]any
}

// decodeProto разбирает бинарное protobuf-сообщение в generic-дерево,
// сохраняя исходные имена полей
func decodeProto(md protoreflect.MessageDescriptor, raw []byte) (map[string]any, error) {
	msg := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", md.FullName(), err)
	}
	return messageTree(msg)
}

// encodeProto кодирует generic-дерево в бинарное protobuf-сообщение
func encodeProto(md protoreflect.MessageDescriptor, tree any) ([]byte, error) {
	msg, err := treeMessage(md, tree)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

// decodeJSON разбирает JSON-сообщение в generic-дерево через дескриптор.
// Неизвестные поля отбрасываются, имена нормализуются к proto-именам.
func decodeJSON(md protoreflect.MessageDescriptor, raw []byte) (map[string]any, error) {
	msg := dynamicpb.NewMessage(md)
	unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := unmarshaler.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", md.FullName(), err)
	}
	return messageTree(msg)
}

// encodeJSON кодирует generic-дерево в JSON через дескриптор
func encodeJSON(md protoreflect.MessageDescriptor, tree any) ([]byte, error) {
	msg, err := treeMessage(md, tree)
	if err != nil {
		return nil, err
	}
	marshaler := protojson.MarshalOptions{UseProtoNames: true}
	return marshaler.Marshal(msg)
}

// messageTree переводит динамическое сообщение в дерево map/slice/scalar
func messageTree(msg *dynamicpb.Message) (map[string]any, error) {
	marshaler := protojson.MarshalOptions{UseProtoNames: true}
	raw, err := marshaler.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// treeMessage переводит дерево в динамическое сообщение по дескриптору
func treeMessage(md protoreflect.MessageDescriptor, tree any) (*dynamicpb.Message, error) {
	if tree == nil {
		tree = map[string]any{}
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	msg := dynamicpb.NewMessage(md)
	unmarshaler := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := unmarshaler.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("response does not match %s: %w", md.FullName(), err)
	}
	return msg, nil
}

// treeAsMap приводит произвольное дерево к map-виду для wireMessage
func treeAsMap(tree any) map[string]any {
	if m, ok := tree.(map[string]any); ok {
		return m
	}
	if tree == nil {
		return map[string]any{}
	}
	return map[string]any{"value": tree}
}

// methodCodec connect-кодек одного метода: запросы разбираются по входному
// дескриптору, ответы кодируются по выходному
type methodCodec struct {
	name   string // proto или json
	input  protoreflect.MessageDescriptor
	output protoreflect.MessageDescriptor
}

func (c *methodCodec) Name() string {
	return c.name
}

func (c *methodCodec) Marshal(v any) ([]byte, error) {
	wm, ok := v.(*wireMessage)
	if !ok {
		// Детали ошибок и служебные сообщения connect кодирует сам
		if pm, ok := v.(proto.Message); ok {
			if c.name == "json" {
				return protojson.Marshal(pm)
			}
			return proto.Marshal(pm)
		}
		return nil, fmt.Errorf("unexpected message type %T", v)
	}
	if c.name == "json" {
		return encodeJSON(c.output, wm.data)
	}
	return encodeProto(c.output, wm.data)
}

func (c *methodCodec) Unmarshal(data []byte, v any) error {
	wm, ok := v.(*wireMessage)
	if !ok {
		if pm, ok := v.(proto.Message); ok {
			if c.name == "json" {
				return protojson.UnmarshalOptions{DiscardUnknown: true}.Unmarshal(data, pm)
			}
			return proto.Unmarshal(data, pm)
		}
		return fmt.Errorf("unexpected message type %T", v)
	}

	var tree map[string]any
	var err error
	if c.name == "json" {
		if len(data) == 0 {
			wm.data = map[string]any{}
			return nil
		}
		tree, err = decodeJSON(c.input, data)
	} else {
		tree, err = decodeProto(c.input, data)
	}
	if err != nil {
		return err
	}
	wm.data = tree
	return nil
}
