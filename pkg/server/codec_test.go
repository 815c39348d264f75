package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/reflect/protoreflect"

	"protomock/pkg/schema"
)

func echoDescriptors(t *testing.T) (protoreflect.MessageDescriptor, protoreflect.MessageDescriptor) {
	t.Helper()
	g, _, err := schema.Load("testdata/protos", nil)
	require.NoError(t, err)

	in, ok := g.Descriptor("echo.EchoRequest")
	require.True(t, ok)
	out, ok := g.Descriptor("echo.EchoReply")
	require.True(t, ok)
	return in, out
}

func TestProtoRoundTrip(t *testing.T) {
	in, _ := echoDescriptors(t)

	raw, err := encodeProto(in, map[string]any{"name": "Test", "number": float64(7)})
	require.NoError(t, err)

	tree, err := decodeProto(in, raw)
	require.NoError(t, err)
	assert.Equal(t, "Test", tree["name"])
	assert.EqualValues(t, 7, tree["number"])
}

func TestJSONDecode_PreservesProtoNames(t *testing.T) {
	in, _ := echoDescriptors(t)

	tree, err := decodeJSON(in, []byte(`{"name": "x", "number": 3}`))
	require.NoError(t, err)
	assert.Equal(t, "x", tree["name"])

	// Неизвестные поля отбрасываются, а не ломают запрос
	tree, err = decodeJSON(in, []byte(`{"name": "x", "bogus": true}`))
	require.NoError(t, err)
	assert.Equal(t, "x", tree["name"])
}

func TestMethodCodec_RequestResponseDescriptors(t *testing.T) {
	in, out := echoDescriptors(t)
	codec := &methodCodec{name: "json", input: in, output: out}

	var wm wireMessage
	require.NoError(t, codec.Unmarshal([]byte(`{"name": "a"}`), &wm))
	assert.Equal(t, "a", wm.data["name"])

	// Маршалинг идёт по выходному дескриптору
	raw, err := codec.Marshal(&wireMessage{data: map[string]any{"message": "hi"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message": "hi"}`, string(raw))
}

func TestMethodCodec_EmptyJSONBody(t *testing.T) {
	in, out := echoDescriptors(t)
	codec := &methodCodec{name: "json", input: in, output: out}

	var wm wireMessage
	require.NoError(t, codec.Unmarshal(nil, &wm))
	assert.NotNil(t, wm.data)
}

func TestRawCodec(t *testing.T) {
	var c rawCodec

	payload := []byte{1, 2, 3}
	out, err := c.Marshal(&payload)
	require.NoError(t, err)
	assert.Equal(t, payload, out)

	var in []byte
	require.NoError(t, c.Unmarshal([]byte{9, 8}, &in))
	assert.Equal(t, []byte{9, 8}, in)

	_, err = c.Marshal("not bytes")
	assert.Error(t, err)
	assert.Equal(t, "proto", c.Name())
}

func TestTreeAsMap(t *testing.T) {
	assert.Equal(t, map[string]any{"a": 1}, treeAsMap(map[string]any{"a": 1}))
	assert.Equal(t, map[string]any{}, treeAsMap(nil))
	assert.Equal(t, map[string]any{"value": "x"}, treeAsMap("x"))
}
