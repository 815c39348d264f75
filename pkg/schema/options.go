package schema

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// extensionMaps собирает пользовательские опции дескриптора в двух формах:
// вложенной ("(validate.rules)" -> дерево) и плоской
// ("(validate.rules.string.min_len)" -> значение).
func extensionMaps(opts proto.Message) (nested map[string]any, flat map[string]any) {
	nested = map[string]any{}
	flat = map[string]any{}
	if opts == nil {
		return nested, flat
	}

	m := opts.ProtoReflect()
	if !m.IsValid() {
		return nested, flat
	}

	m.Range(func(fd protoreflect.FieldDescriptor, val protoreflect.Value) bool {
		if !fd.IsExtension() {
			return true
		}
		name := string(fd.FullName())
		tree := valueToTree(fd, val)
		nested["("+name+")"] = tree
		flattenOption("("+name, tree, flat)
		return true
	})

	return nested, flat
}

func flattenOption(prefix string, v any, out map[string]any) {
	if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
		for k, sv := range sub {
			flattenOption(prefix+"."+k, sv, out)
		}
		return
	}
	out[prefix+")"] = v
}

// valueToTree конвертирует значение опции в generic-дерево
func valueToTree(fd protoreflect.FieldDescriptor, val protoreflect.Value) any {
	switch {
	case fd.IsList():
		list := val.List()
		out := make([]any, 0, list.Len())
		for i := 0; i < list.Len(); i++ {
			out = append(out, singularToTree(fd, list.Get(i)))
		}
		return out
	case fd.IsMap():
		mp := val.Map()
		out := make(map[string]any, mp.Len())
		mp.Range(func(k protoreflect.MapKey, v protoreflect.Value) bool {
			out[k.String()] = singularToTree(fd.MapValue(), v)
			return true
		})
		return out
	default:
		return singularToTree(fd, val)
	}
}

func singularToTree(fd protoreflect.FieldDescriptor, val protoreflect.Value) any {
	switch fd.Kind() {
	case protoreflect.MessageKind, protoreflect.GroupKind:
		return messageToTree(val.Message())
	case protoreflect.EnumKind:
		num := val.Enum()
		if ed := fd.Enum(); ed != nil {
			if v := ed.Values().ByNumber(num); v != nil {
				return string(v.Name())
			}
		}
		return int64(num)
	case protoreflect.BytesKind:
		return string(val.Bytes())
	case protoreflect.BoolKind:
		return val.Bool()
	case protoreflect.StringKind:
		return val.String()
	case protoreflect.Int32Kind, protoreflect.Int64Kind,
		protoreflect.Sint32Kind, protoreflect.Sint64Kind,
		protoreflect.Sfixed32Kind, protoreflect.Sfixed64Kind:
		return val.Int()
	case protoreflect.Uint32Kind, protoreflect.Uint64Kind,
		protoreflect.Fixed32Kind, protoreflect.Fixed64Kind:
		return val.Uint()
	case protoreflect.FloatKind, protoreflect.DoubleKind:
		return val.Float()
	default:
		return fmt.Sprintf("%v", val.Interface())
	}
}

func messageToTree(m protoreflect.Message) map[string]any {
	out := map[string]any{}
	m.Range(func(fd protoreflect.FieldDescriptor, val protoreflect.Value) bool {
		name := string(fd.Name())
		if fd.IsExtension() {
			name = "(" + string(fd.FullName()) + ")"
		}
		out[name] = valueToTree(fd, val)
		return true
	})
	return out
}
