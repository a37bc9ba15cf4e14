package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"presence/src/protocol"
)

func TestOutboundStatusRoundTrip(t *testing.T) {
	out := protocol.NewOutboundStatus(7, "online", 1000)
	data, err := json.Marshal(out)
	require.NoError(t, err)

	var got protocol.OutboundStatus
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, out, got)
}

func TestOutboundSubscribeAckRoundTrip(t *testing.T) {
	out := protocol.NewOutboundSubscribeAck(7, "away", 1020)
	data, err := json.Marshal(out)
	require.NoError(t, err)

	var got protocol.OutboundSubscribeAck
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, out, got)
}

func TestInboundDecodesTargetUserID(t *testing.T) {
	raw := []byte(`{"type":"presence.subscribe","target_user_id":7}`)
	var in protocol.Inbound
	require.NoError(t, json.Unmarshal(raw, &in))
	require.Equal(t, protocol.TypeSubscribe, in.Type)
	require.EqualValues(t, 7, in.TargetUserID)
}
