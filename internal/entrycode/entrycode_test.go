package entrycode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftc-tickets/models"
)

func TestGenerateAndDecode(t *testing.T) {
	gen := NewPayloadGenerator("FTC MARCH MADNESS")

	code, err := gen.Generate(&models.TicketUnit{
		TicketNo:   "FTC26031234",
		Name:       "Ada",
		Email:      "ada@example.com",
		TicketType: "Regular",
	})
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(code.Payload), &payload))
	assert.Equal(t, "FTC26031234", payload["ticketId"])
	assert.Equal(t, "FTC MARCH MADNESS", payload["event"])

	assert.Equal(t, "FTC26031234", Decode(code.Payload))
}

func TestDecodeLiteral(t *testing.T) {
	assert.Equal(t, "FTC26031234", Decode("FTC26031234"))
	assert.Equal(t, "FTC26031234", Decode("  FTC26031234\n"))
}

func TestDecodeMalformedJSON(t *testing.T) {
	// broken JSON falls through to literal handling
	raw := `{"ticketId": "FTC2603`
	assert.Equal(t, raw, Decode(raw))
}

func TestDecodeJSONWithoutTicketID(t *testing.T) {
	raw := `{"name":"Ada"}`
	assert.Equal(t, raw, Decode(raw))
}
