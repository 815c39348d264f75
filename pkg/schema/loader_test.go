package schema

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestdata(t *testing.T) (*Graph, *Report) {
	t.Helper()
	g, report, err := Load("testdata", nil)
	require.NoError(t, err)
	return g, report
}

func TestLoad_MissingDirGivesEmptyGraph(t *testing.T) {
	g, report, err := Load(filepath.Join(t.TempDir(), "nope"), nil)
	require.NoError(t, err)
	assert.Empty(t, g.Messages)
	assert.Empty(t, g.Services)
	assert.Empty(t, report.Loaded)
}

func TestLoad_SkipsUnresolvableImports(t *testing.T) {
	_, report := loadTestdata(t)

	var skipped []string
	for _, s := range report.Skipped {
		skipped = append(skipped, s.File)
	}
	assert.Contains(t, skipped, "broken.proto")
	assert.Contains(t, report.Loaded, "greeter.proto")
}

func TestLoad_ServicesAndMethods(t *testing.T) {
	g, _ := loadTestdata(t)

	var greeter *ServiceInfo
	for _, svc := range g.Services {
		if svc.FullName == "helloworld.Greeter" {
			greeter = svc
		}
	}
	require.NotNil(t, greeter)
	assert.Equal(t, "helloworld", greeter.Package)
	assert.Equal(t, "Greeter", greeter.Name)
	require.Len(t, greeter.Methods, 4)

	byName := map[string]*MethodInfo{}
	for _, m := range greeter.Methods {
		byName[m.Name] = m
	}

	say := byName["SayHello"]
	require.NotNil(t, say)
	assert.Equal(t, "helloworld.HelloRequest", say.InputType)
	assert.Equal(t, "helloworld.HelloReply", say.OutputType)
	assert.False(t, say.ClientStream)
	assert.False(t, say.ServerStream)
	assert.Equal(t, "helloworld.greeter.sayhello", say.RuleKey)

	assert.True(t, byName["LotsOfReplies"].ServerStream)
	assert.True(t, byName["LotsOfGreetings"].ClientStream)
	assert.True(t, byName["BidiHello"].ClientStream)
	assert.True(t, byName["BidiHello"].ServerStream)
}

func TestLoad_FieldOptionsBothForms(t *testing.T) {
	g, _ := loadTestdata(t)

	msg, ok := g.Messages["helloworld.HelloRequest"]
	require.True(t, ok)

	name, ok := msg.Field("name")
	require.True(t, ok)
	assert.Equal(t, "string", name.Kind)

	// Вложенная форма
	rules, ok := name.Options["(validate.rules)"].(map[string]any)
	require.True(t, ok, "nested option form must be present: %v", name.Options)
	str, ok := rules["string"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, str["min_len"])
	assert.EqualValues(t, 64, str["max_len"])

	// Плоская форма
	assert.EqualValues(t, 3, name.FlatOptions["(validate.rules.string.min_len)"])

	age, ok := msg.Field("age")
	require.True(t, ok)
	pv, ok := age.Options["(buf.validate.field)"].(map[string]any)
	require.True(t, ok)
	i32, ok := pv["int32"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 18, i32["gte"])
}

func TestLoad_Oneofs(t *testing.T) {
	g, _ := loadTestdata(t)
	msg := g.Messages["helloworld.HelloRequest"]

	var contact, synthetic *OneofInfo
	for _, oo := range msg.Oneofs {
		switch oo.Name {
		case "contact":
			contact = oo
		case "_nickname":
			synthetic = oo
		}
	}

	require.NotNil(t, contact)
	assert.Equal(t, []string{"email", "phone"}, contact.Fields)
	assert.False(t, contact.Synthetic)
	assert.Equal(t, true, contact.Options["(validate.required)"])

	// proto3 optional порождает синтетическую группу
	require.NotNil(t, synthetic)
	assert.True(t, synthetic.Synthetic)
}

func TestLoad_Enums(t *testing.T) {
	g, _ := loadTestdata(t)

	mood, ok := g.Enums["helloworld.Mood"]
	require.True(t, ok)
	assert.Equal(t, int32(1), mood.ByName["MOOD_HAPPY"])
	assert.Equal(t, "MOOD_GRUMPY", mood.ByNumber[2])
}

func TestLoad_PreservesFieldNames(t *testing.T) {
	g, _ := loadTestdata(t)
	msg := g.Messages["helloworld.HelloRequest"]

	names := make([]string, 0, len(msg.Fields))
	for _, f := range msg.Fields {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "name")
	assert.Contains(t, names, "nickname")
}

func TestRuleKey(t *testing.T) {
	assert.Equal(t, "helloworld.greeter.sayhello", RuleKey("helloworld", "Greeter", "SayHello"))
	assert.Equal(t, "greeter.sayhello", RuleKey("", "Greeter", "SayHello"))
}

func TestGraph_Descriptor(t *testing.T) {
	g, _ := loadTestdata(t)

	md, ok := g.Descriptor("helloworld.HelloRequest")
	require.True(t, ok)
	assert.Equal(t, "helloworld.HelloRequest", string(md.FullName()))

	_, ok = g.Descriptor("helloworld.Nope")
	assert.False(t, ok)
}
