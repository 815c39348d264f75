package validation

import (
	"sort"
	"strings"

	"protomock/pkg/logger"
	"protomock/pkg/schema"
)

// SourceFilter какие диалекты аннотаций извлекать
type SourceFilter string

const (
	FilterAuto          SourceFilter = "auto"
	FilterPGV           SourceFilter = "pgv"
	FilterProtovalidate SourceFilter = "protovalidate"
)

// ParseSourceFilter приводит строку конфигурации к фильтру
func ParseSourceFilter(s string) SourceFilter {
	switch strings.ToLower(s) {
	case "pgv":
		return FilterPGV
	case "protovalidate":
		return FilterProtovalidate
	default:
		return FilterAuto
	}
}

const (
	extProtovalidateField   = "(buf.validate.field)"
	extProtovalidateMessage = "(buf.validate.message)"
	extProtovalidateOneof   = "(buf.validate.oneof)"
	extPGVRules             = "(validate.rules)"
	extPGVDisabled          = "(validate.disabled)"
	extPGVIgnored           = "(validate.ignored)"
	extPGVOneofRequired     = "(validate.required)"
)

// numericGroups ключи числовых групп правил в обоих диалектах
var numericGroups = []string{
	"float", "double",
	"int32", "int64", "uint32", "uint64",
	"sint32", "sint64", "fixed32", "fixed64",
	"sfixed32", "sfixed64",
}

// Extract обходит все сообщения графа и строит IR для каждого типа.
// Для каждого поля сначала пробуются protovalidate-аннотации, затем PGV.
// Типы без единого правила в результат не попадают.
func Extract(g *schema.Graph, filter SourceFilter) map[string]*IR {
	out := make(map[string]*IR)

	names := make([]string, 0, len(g.Messages))
	for name := range g.Messages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ir := extractMessage(g, g.Messages[name], filter)
		if !ir.Empty() {
			out[name] = ir
		}
	}

	logger.Log.Info("Validation constraints extracted", "types", len(out), "source", string(filter))
	return out
}

func extractMessage(g *schema.Graph, mi *schema.MessageInfo, filter SourceFilter) *IR {
	ir := &IR{}

	for _, fi := range mi.Fields {
		ir.Fields = append(ir.Fields, extractField(g, fi, filter)...)
	}

	for _, oi := range mi.Oneofs {
		if oi.Synthetic {
			continue
		}
		oc := OneofConstraint{
			Name:   oi.Name,
			Fields: oi.Fields,
			Source: SourceProto,
		}
		if pv, ok := oi.Options[extProtovalidateOneof].(map[string]any); ok {
			if isTrue(pv["required"]) && filter != FilterPGV {
				oc.Required = true
				oc.Source = SourceProtovalidate
			}
		}
		if isTrue(oi.Options[extPGVOneofRequired]) && filter != FilterProtovalidate {
			oc.Required = true
			if oc.Source == SourceProto {
				oc.Source = SourcePGV
			}
		}
		ir.Oneofs = append(ir.Oneofs, oc)
	}

	ir.Message = extractMessageConstraint(mi, filter)

	return ir
}

// extractMessageConstraint собирает message-level правила.
// CEL записывается, но применение включается отдельным флагом конфигурации.
func extractMessageConstraint(mi *schema.MessageInfo, filter SourceFilter) *MessageConstraint {
	var mc *MessageConstraint

	if filter != FilterPGV {
		if pv, ok := mi.Options[extProtovalidateMessage].(map[string]any); ok {
			mc = &MessageConstraint{Source: SourceProtovalidate}
			if isTrue(pv["disabled"]) {
				mc.Skip = true
			}
			if rules, ok := pv["cel"].([]any); ok {
				for _, raw := range rules {
					rule, ok := raw.(map[string]any)
					if !ok {
						continue
					}
					expr := asString(rule["expression"])
					if expr == "" {
						continue
					}
					mc.CEL = append(mc.CEL, CELRule{
						ID:         asString(rule["id"]),
						Expression: expr,
						Message:    asString(rule["message"]),
					})
				}
			}
		}
	}

	if filter != FilterProtovalidate {
		if isTrue(mi.Options[extPGVDisabled]) || isTrue(mi.Options[extPGVIgnored]) {
			if mc == nil {
				mc = &MessageConstraint{Source: SourcePGV}
			}
			mc.Skip = true
		}
	}

	if mc != nil && len(mc.CEL) == 0 && !mc.Skip {
		return nil
	}
	return mc
}

func extractField(g *schema.Graph, fi *schema.FieldInfo, filter SourceFilter) []FieldConstraint {
	if filter != FilterPGV {
		if tree, ok := fi.Options[extProtovalidateField].(map[string]any); ok {
			if cs := constraintsFromTree(g, fi, tree, SourceProtovalidate); len(cs) > 0 {
				return cs
			}
		}
	}
	if filter != FilterProtovalidate {
		if tree, ok := fi.Options[extPGVRules].(map[string]any); ok {
			if cs := constraintsFromTree(g, fi, tree, SourcePGV); len(cs) > 0 {
				return cs
			}
		}
	}
	return nil
}

// constraintsFromTree переводит дерево опций одного поля в ограничения
func constraintsFromTree(g *schema.Graph, fi *schema.FieldInfo, tree map[string]any, source Source) []FieldConstraint {
	// protovalidate: ignore=IGNORE_ALWAYS отключает поле целиком
	if ig := asString(tree["ignore"]); ig == "IGNORE_ALWAYS" {
		return nil
	}
	ignoreEmpty := false
	switch asString(tree["ignore"]) {
	case "IGNORE_IF_UNPOPULATED", "IGNORE_IF_ZERO_VALUE", "IGNORE_IF_DEFAULT_VALUE":
		ignoreEmpty = true
	}

	var out []FieldConstraint

	mk := func(kind string, ops map[string]any) {
		if ignoreEmpty {
			if _, exists := ops["ignore_empty"]; !exists {
				ops["ignore_empty"] = true
			}
		}
		out = append(out, FieldConstraint{
			Kind:      kind,
			Ops:       ops,
			FieldPath: fi.Name,
			FieldType: fi.Kind,
			Source:    source,
		})
	}

	// required: protovalidate - верхний уровень; PGV - message.required
	if isTrue(tree["required"]) {
		mk("presence", map[string]any{"required": true})
	}
	if msg, ok := tree["message"].(map[string]any); ok && isTrue(msg["required"]) {
		mk("presence", map[string]any{"required": true})
	}

	if sub, ok := tree["repeated"].(map[string]any); ok {
		mk("repeated", repeatedOps(g, fi, sub))
	}
	if sub, ok := tree["map"].(map[string]any); ok {
		mk("map", copyOps(sub))
	}
	if sub, ok := tree["string"].(map[string]any); ok {
		kind, ops := "string", copyOps(sub)
		if fi.Repeated {
			mk("repeated", map[string]any{"items": map[string]any{"kind": kind, "ops": ops}})
		} else {
			mk(kind, ops)
		}
	}
	if sub, ok := tree["bytes"].(map[string]any); ok {
		mk("bytes", copyOps(sub))
	}
	if sub, ok := tree["bool"].(map[string]any); ok {
		mk("bool", copyOps(sub))
	}
	if sub, ok := tree["enum"].(map[string]any); ok {
		ops := copyOps(sub)
		if isTrue(ops["defined_only"]) {
			ops["defined_values"] = enumValues(g, fi.TypeName)
		}
		mk("enum", ops)
	}
	if sub, ok := tree["timestamp"].(map[string]any); ok {
		mk("timestamp", copyOps(sub))
	}
	if sub, ok := tree["duration"].(map[string]any); ok {
		mk("duration", copyOps(sub))
	}
	if sub, ok := tree["any"].(map[string]any); ok {
		mk("any", copyOps(sub))
	}
	for _, group := range numericGroups {
		sub, ok := tree[group].(map[string]any)
		if !ok {
			continue
		}
		kind, ops := "number", copyOps(sub)
		if fi.Repeated {
			mk("repeated", map[string]any{"items": map[string]any{"kind": kind, "ops": ops}})
		} else {
			mk(kind, ops)
		}
		break
	}

	// protovalidate: CEL уровня поля
	if rules, ok := tree["cel"].([]any); ok && len(rules) > 0 {
		mk("cel", map[string]any{"rules": rules})
	}

	return out
}

// repeatedOps нормализует правила repeated, включая item-level ограничения
func repeatedOps(g *schema.Graph, fi *schema.FieldInfo, sub map[string]any) map[string]any {
	ops := map[string]any{}
	for _, key := range []string{"min_items", "max_items", "unique", "ignore_empty"} {
		if v, ok := sub[key]; ok {
			ops[key] = v
		}
	}

	items, ok := sub["items"].(map[string]any)
	if !ok {
		return ops
	}

	if s, ok := items["string"].(map[string]any); ok {
		ops["items"] = map[string]any{"kind": "string", "ops": copyOps(s)}
		return ops
	}
	for _, group := range numericGroups {
		if n, ok := items[group].(map[string]any); ok {
			ops["items"] = map[string]any{"kind": "number", "ops": copyOps(n)}
			return ops
		}
	}
	if e, ok := items["enum"].(map[string]any); ok {
		itemOps := copyOps(e)
		if isTrue(itemOps["defined_only"]) {
			itemOps["defined_values"] = enumValues(g, fi.TypeName)
		}
		ops["items"] = map[string]any{"kind": "enum", "ops": itemOps}
	}
	return ops
}

func enumValues(g *schema.Graph, typeName string) []any {
	ei, ok := g.Enums[typeName]
	if !ok {
		return nil
	}
	nums := make([]int32, 0, len(ei.ByNumber))
	for n := range ei.ByNumber {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	out := make([]any, 0, len(nums)*2)
	for _, n := range nums {
		out = append(out, int64(n), ei.ByNumber[n])
	}
	return out
}

func copyOps(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
