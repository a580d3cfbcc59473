package websocket

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
)

func TestParseFrame(t *testing.T) {
	var p fastjson.Parser

	eventType, payload, eerr := parseFrame(&p, []byte(`{"type":"send_message","payload":{"message":"hi"}}`))
	require.Nil(t, eerr)
	require.Equal(t, "send_message", eventType)
	require.NotNil(t, payload)

	s, eerr := payloadString(payload, "message")
	require.Nil(t, eerr)
	require.Equal(t, "hi", s)
}

func TestParseFrameMalformed(t *testing.T) {
	var p fastjson.Parser

	_, _, eerr := parseFrame(&p, []byte(`{"type":`))
	require.NotNil(t, eerr)
	require.Equal(t, CodeValidation, eerr.Code)
}

func TestParseFrameMissingType(t *testing.T) {
	var p fastjson.Parser

	_, _, eerr := parseFrame(&p, []byte(`{"payload":{}}`))
	require.NotNil(t, eerr)
	require.Equal(t, CodeValidation, eerr.Code)

	_, _, eerr = parseFrame(&p, []byte(`{"type":42}`))
	require.NotNil(t, eerr)
	require.Equal(t, CodeValidation, eerr.Code)
}

func TestPayloadString(t *testing.T) {
	var p fastjson.Parser
	v, err := p.Parse(`{"a":"x","b":42,"c":""}`)
	require.NoError(t, err)

	s, eerr := payloadString(v, "a")
	require.Nil(t, eerr)
	require.Equal(t, "x", s)

	_, eerr = payloadString(v, "b")
	require.NotNil(t, eerr)

	_, eerr = payloadString(v, "c")
	require.NotNil(t, eerr)

	_, eerr = payloadString(v, "missing")
	require.NotNil(t, eerr)

	_, eerr = payloadString(nil, "a")
	require.NotNil(t, eerr)
}

func TestPayloadOptionalString(t *testing.T) {
	var p fastjson.Parser
	v, err := p.Parse(`{"a":"x","b":null,"c":7}`)
	require.NoError(t, err)

	s, eerr := payloadOptionalString(v, "a")
	require.Nil(t, eerr)
	require.Equal(t, "x", s)

	s, eerr = payloadOptionalString(v, "b")
	require.Nil(t, eerr)
	require.Empty(t, s)

	s, eerr = payloadOptionalString(v, "missing")
	require.Nil(t, eerr)
	require.Empty(t, s)

	_, eerr = payloadOptionalString(v, "c")
	require.NotNil(t, eerr)
}

func TestPayloadBool(t *testing.T) {
	var p fastjson.Parser
	v, err := p.Parse(`{"yes":true,"no":false,"bad":"true"}`)
	require.NoError(t, err)

	b, eerr := payloadBool(v, "yes")
	require.Nil(t, eerr)
	require.True(t, b)

	b, eerr = payloadBool(v, "no")
	require.Nil(t, eerr)
	require.False(t, b)

	b, eerr = payloadBool(v, "missing")
	require.Nil(t, eerr)
	require.False(t, b)

	_, eerr = payloadBool(v, "bad")
	require.NotNil(t, eerr)
}
