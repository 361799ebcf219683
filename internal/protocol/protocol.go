package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeSubscribe    = "SUBSCRIBE"
	TypeEvent        = "EVENT"
	TypeLoadScene    = "LOAD_SCENE"
	TypeSetGameState = "SET_GAME_STATE"
	TypeSetActive    = "SET_NODE_ACTIVE"
	TypeStatusReq    = "STATUS"
	TypeStatus       = "STATUS"
	TypeAck          = "ACK"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
