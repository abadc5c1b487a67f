package whatsapp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA",
    "changes": [
      {"field": "messages", "value": {
        "messaging_product": "whatsapp",
        "contacts": [{"wa_id": "111", "profile": {"name": "Ann"}}],
        "messages": [
          {"from": "111", "id": "wamid.A", "timestamp": "1700000000", "type": "text", "text": {"body": "hi"}},
          {"from": "111", "id": "wamid.B", "timestamp": "1700000001", "type": "image"},
          {"from": "222", "id": "wamid.C", "timestamp": "1700000002", "type": "text", "text": {"body": "yo"}}
        ]
      }},
      {"field": "statuses", "value": {"messaging_product": "whatsapp"}}
    ]
  }]
}`

func TestTextMessages(t *testing.T) {
	var w Webhook
	require.NoError(t, json.Unmarshal([]byte(samplePayload), &w))

	require.Equal(t, []TextMessage{
		{From: "111", MessageID: "wamid.A", Text: "hi"},
		{From: "222", MessageID: "wamid.C", Text: "yo"},
	}, w.TextMessages())
}

func TestTextMessages_OtherObject(t *testing.T) {
	var w Webhook
	require.NoError(t, json.Unmarshal([]byte(samplePayload), &w))
	w.Object = "page"
	require.Empty(t, w.TextMessages())
}

func TestVerifySignature(t *testing.T) {
	body := []byte(samplePayload)
	sig := Sign("app-secret", body)

	require.True(t, VerifySignature("app-secret", body, sig))
	require.False(t, VerifySignature("other", body, sig))
	require.False(t, VerifySignature("app-secret", []byte("{}"), sig))
	require.False(t, VerifySignature("app-secret", body, "sha1=abc"))
	require.False(t, VerifySignature("app-secret", body, "sha256=zz"))
}
