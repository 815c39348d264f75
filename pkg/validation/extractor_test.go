package validation

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"protomock/pkg/schema"
)

// testGraph собирает граф с аннотациями обоих диалектов
func testGraph() *schema.Graph {
	g := schema.NewGraph()

	g.Enums["test.Status"] = &schema.EnumInfo{
		Name:     "test.Status",
		ByName:   map[string]int32{"UNKNOWN": 0, "ACTIVE": 1},
		ByNumber: map[int32]string{0: "UNKNOWN", 1: "ACTIVE"},
	}

	g.Messages["test.CreateUserRequest"] = &schema.MessageInfo{
		Name: "test.CreateUserRequest",
		Fields: []*schema.FieldInfo{
			{
				Name: "name",
				Kind: "string",
				Options: map[string]any{
					"(validate.rules)": map[string]any{
						"string": map[string]any{"min_len": int64(3), "max_len": int64(64)},
					},
				},
			},
			{
				Name: "age",
				Kind: "int32",
				Options: map[string]any{
					"(buf.validate.field)": map[string]any{
						"int32": map[string]any{"gte": int64(18)},
					},
				},
			},
			{
				Name: "email",
				Kind: "string",
				Options: map[string]any{
					"(buf.validate.field)": map[string]any{
						"required": true,
						"string":   map[string]any{"email": true},
					},
					"(validate.rules)": map[string]any{
						"string": map[string]any{"min_len": int64(1)},
					},
				},
			},
			{
				Name: "status",
				Kind: "enum",
				TypeName: "test.Status",
				Options: map[string]any{
					"(validate.rules)": map[string]any{
						"enum": map[string]any{"defined_only": true},
					},
				},
			},
			{Name: "note", Kind: "string"},
		},
		Oneofs: []*schema.OneofInfo{
			{
				Name:    "contact",
				Fields:  []string{"email", "phone"},
				Options: map[string]any{"(validate.required)": true},
			},
			{Name: "_note", Fields: []string{"note"}, Synthetic: true},
		},
		Options: map[string]any{
			"(buf.validate.message)": map[string]any{
				"cel": []any{map[string]any{
					"id":         "age_name",
					"expression": "this.age > 0",
					"message":    "age must be positive",
				}},
			},
		},
	}

	g.Messages["test.Plain"] = &schema.MessageInfo{
		Name:   "test.Plain",
		Fields: []*schema.FieldInfo{{Name: "x", Kind: "string"}},
	}

	return g
}

func TestExtract_Basics(t *testing.T) {
	irs := Extract(testGraph(), FilterAuto)

	require.Contains(t, irs, "test.CreateUserRequest")
	assert.NotContains(t, irs, "test.Plain", "types without constraints must be skipped")

	ir := irs["test.CreateUserRequest"]

	byPath := map[string][]FieldConstraint{}
	for _, fc := range ir.Fields {
		byPath[fc.FieldPath] = append(byPath[fc.FieldPath], fc)
	}

	require.Len(t, byPath["name"], 1)
	assert.Equal(t, "string", byPath["name"][0].Kind)
	assert.Equal(t, SourcePGV, byPath["name"][0].Source)
	assert.Equal(t, int64(3), byPath["name"][0].Ops["min_len"])

	require.Len(t, byPath["age"], 1)
	assert.Equal(t, "number", byPath["age"][0].Kind)
	assert.Equal(t, SourceProtovalidate, byPath["age"][0].Source)

	// protovalidate предпочитается PGV для одного поля
	for _, fc := range byPath["email"] {
		assert.Equal(t, SourceProtovalidate, fc.Source)
	}
	kinds := []string{}
	for _, fc := range byPath["email"] {
		kinds = append(kinds, fc.Kind)
	}
	assert.Contains(t, kinds, "presence")
	assert.Contains(t, kinds, "string")

	// enum с defined_only получает значения из графа
	require.Len(t, byPath["status"], 1)
	assert.Equal(t, []any{int64(0), "UNKNOWN", int64(1), "ACTIVE"}, byPath["status"][0].Ops["defined_values"])
}

func TestExtract_Oneofs(t *testing.T) {
	irs := Extract(testGraph(), FilterAuto)
	ir := irs["test.CreateUserRequest"]

	require.Len(t, ir.Oneofs, 1, "synthetic oneof must be skipped")
	oc := ir.Oneofs[0]
	assert.Equal(t, "contact", oc.Name)
	assert.Equal(t, []string{"email", "phone"}, oc.Fields)
	assert.True(t, oc.Required)
	assert.Equal(t, SourcePGV, oc.Source)
}

func TestExtract_MessageCEL(t *testing.T) {
	irs := Extract(testGraph(), FilterAuto)
	ir := irs["test.CreateUserRequest"]

	require.NotNil(t, ir.Message)
	require.Len(t, ir.Message.CEL, 1)
	assert.Equal(t, "this.age > 0", ir.Message.CEL[0].Expression)
	assert.Equal(t, "age must be positive", ir.Message.CEL[0].Message)
	assert.False(t, ir.Message.Skip)
}

func TestExtract_SourceFilters(t *testing.T) {
	g := testGraph()

	pgvOnly := Extract(g, FilterPGV)
	ir := pgvOnly["test.CreateUserRequest"]
	for _, fc := range ir.Fields {
		assert.Equal(t, SourcePGV, fc.Source)
	}
	assert.Nil(t, ir.Message, "message CEL is protovalidate-only")

	pvOnly := Extract(g, FilterProtovalidate)
	ir = pvOnly["test.CreateUserRequest"]
	for _, fc := range ir.Fields {
		assert.Equal(t, SourceProtovalidate, fc.Source)
	}
}

// Property: повторное извлечение даёт равные IR
func TestExtract_Deterministic(t *testing.T) {
	g := testGraph()
	first := Extract(g, FilterAuto)
	second := Extract(g, FilterAuto)

	if !reflect.DeepEqual(first, second) {
		t.Error("extractor must be deterministic")
	}
}

func TestExtract_RepeatedWithItems(t *testing.T) {
	g := schema.NewGraph()
	g.Messages["test.List"] = &schema.MessageInfo{
		Name: "test.List",
		Fields: []*schema.FieldInfo{{
			Name:     "tags",
			Kind:     "string",
			Repeated: true,
			Options: map[string]any{
				"(validate.rules)": map[string]any{
					"repeated": map[string]any{
						"min_items": int64(1),
						"unique":    true,
						"items": map[string]any{
							"string": map[string]any{"min_len": int64(2)},
						},
					},
				},
			},
		}},
	}

	irs := Extract(g, FilterAuto)
	require.Contains(t, irs, "test.List")
	fc := irs["test.List"].Fields[0]
	assert.Equal(t, "repeated", fc.Kind)
	assert.Equal(t, int64(1), fc.Ops["min_items"])

	items, ok := fc.Ops["items"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", items["kind"])
}
