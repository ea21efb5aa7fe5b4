package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/tileverse/internal/netelement"
)

func TestCodecJSONTool(t *testing.T) {
	codec, err := NewCodec(true)
	require.NoError(t, err)
	defer codec.Close()

	input := []byte(`[
		{"type": "ProtocolRequest", "data": {"requestProtocolVersion": 2}},
		{"type": "ServerDisconnect", "data": {"reason": "обслуживание"}}
	]`)
	data, count, err := codec.EncodeJSON(input, netelement.CurrentRules)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	out, err := codec.DecodeJSON(data, netelement.CurrentRules)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.JSONEq(t, `{"type":"ProtocolRequest","data":{"requestProtocolVersion":2}}`, string(out[0]))
	assert.JSONEq(t, `{"type":"ServerDisconnect","data":{"reason":"обслуживание"}}`, string(out[1]))

	single, count, err := codec.EncodeJSON([]byte(`{"type":"ServerDisconnect","data":{"reason":"x"}}`), netelement.CurrentRules)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "одиночный конверт без массива")
	assert.NotEmpty(t, single)

	_, _, err = codec.EncodeJSON([]byte(`[{"type":"NoSuchPacket"}]`), netelement.CurrentRules)
	assert.ErrorIs(t, err, ErrUnknownPacket)
	_, _, err = codec.EncodeJSON([]byte("  "), netelement.CurrentRules)
	assert.Error(t, err)
}

func TestFormatAndParseBytes(t *testing.T) {
	raw := []byte{0x00, 0x01, 0xfe, 0xff}

	text, err := FormatBytes(raw, FormatHex)
	require.NoError(t, err)
	assert.Equal(t, "0001feff", text)

	back, err := ParseBytes("00 01\nfe ff", FormatHex)
	require.NoError(t, err)
	assert.Equal(t, raw, back, "пробелы в hex игнорируются")

	text, err = FormatBytes(raw, "")
	require.NoError(t, err)
	back, err = ParseBytes(text, FormatBase64)
	require.NoError(t, err)
	assert.Equal(t, raw, back)

	_, err = FormatBytes(raw, "ascii85")
	assert.Error(t, err)
	_, err = ParseBytes("zz", FormatHex)
	assert.Error(t, err)
}
