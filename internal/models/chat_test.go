package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPart_KeepsUnmodelledFields(t *testing.T) {
	in := `[
		{"type":"text","text":"hi","providerMetadata":{"openai":{"itemId":"x1"}}},
		{"type":"source-url","sourceId":"s1","url":"u","title":"A page"},
		{"type":"data-weather","id":"w1","data":{"city":"Oslo","temp":3}}
	]`

	var parts []Part
	require.NoError(t, json.Unmarshal([]byte(in), &parts))
	require.Len(t, parts, 3)
	assert.Equal(t, "hi", parts[0].Text)
	assert.Equal(t, "u", parts[1].URL)

	out, err := json.Marshal(parts)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestPart_ModelledFieldsWinOnEncode(t *testing.T) {
	var p Part
	require.NoError(t, json.Unmarshal([]byte(`{"type":"text","text":"old","providerMetadata":{"k":1}}`), &p))

	p.Text = "new"
	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","text":"new","providerMetadata":{"k":1}}`, string(out))
}

func TestPart_PlainPartEncodesWithoutExtras(t *testing.T) {
	out, err := json.Marshal(Part{Type: PartStepStart})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"step-start"}`, string(out))
}

func TestMessage_PartsSurviveStorageEncoding(t *testing.T) {
	var ui UIMessage
	require.NoError(t, json.Unmarshal([]byte(`{"id":"m1","role":"user","parts":[
		{"type":"file","url":"data:x","mediaType":"image/png","providerMetadata":{"a":true}}
	]}`), &ui))

	stored, err := json.Marshal(ui.Parts)
	require.NoError(t, err)

	var back []Part
	require.NoError(t, json.Unmarshal(stored, &back))
	again, err := json.Marshal(back)
	require.NoError(t, err)
	assert.JSONEq(t, string(stored), string(again))
	assert.Contains(t, string(again), "providerMetadata")
}
