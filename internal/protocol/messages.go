package protocol

// SUBSCRIBE (client -> server). Kinds filters the event stream; empty means all.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Kinds           []string `json:"kinds,omitempty"`
}

// EVENT (server -> client): one notification bus event.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Kind            string `json:"kind"`
	Scene           string `json:"scene,omitempty"`
	LoadID          string `json:"load_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	WorldState      string `json:"world_state,omitempty"`
	GuiState        string `json:"gui_state,omitempty"`
}

// LOAD_SCENE (client -> server)
type LoadSceneMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Scene           string `json:"scene"`
}

// SET_GAME_STATE (client -> server)
type SetGameStateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	World           string `json:"world"`
	Gui             string `json:"gui"`
}

// SET_NODE_ACTIVE (client -> server). Path is relative to the current scene
// root, e.g. "World/Player".
type SetNodeActiveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Path            string `json:"path"`
	Enabled         bool   `json:"enabled"`
}

// STATUS (server -> client, also the /v1/status body)
type StatusMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ReqID           string  `json:"req_id,omitempty"`
	Tick            uint64  `json:"tick"`
	TickRateHz      int     `json:"tick_rate_hz"`
	FPS             float64 `json:"fps"`
	Scene           string  `json:"scene,omitempty"`
	WorldState      string  `json:"world_state"`
	GuiState        string  `json:"gui_state"`
	Paused          bool    `json:"paused"`
	LoadInProgress  bool    `json:"load_in_progress"`
	Quit            bool    `json:"quit,omitempty"`
}

type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          string `json:"ack_for"`
	ReqID           string `json:"req_id,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	LoadID          string `json:"load_id,omitempty"`
	ServerTick      uint64 `json:"server_tick,omitempty"`
}
