package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypePush  = "PUSH"
	TypePlace = "PLACE"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Server -> client replies on the change stream.
const (
	TypeAck   = "ACK"
	TypeError = "ERROR"
)

// AckMsg answers one change event on the change stream, in submit order.
type AckMsg struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Result          ChangeResult `json:"result"`
}

// ErrorEventMsg rejects one change event on the change stream.
type ErrorEventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
