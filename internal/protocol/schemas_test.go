package protocol_test

import (
	"encoding/json"
	"testing"

	"scenekeeper.ai/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	valid := func(name, doc string) {
		t.Helper()
		if err := protocol.ValidateJSON(name, []byte(doc)); err != nil {
			t.Fatalf("%s: expected valid: %v\n%s", name, err, doc)
		}
	}
	invalid := func(name, doc string) {
		t.Helper()
		if err := protocol.ValidateJSON(name, []byte(doc)); err == nil {
			t.Fatalf("%s: expected invalid:\n%s", name, doc)
		}
	}

	valid(protocol.SceneSchema, `{
	  "name":"level_1",
	  "root":{"name":"Level1","kind":"group","children":[
	    {"name":"World","kind":"group","pause_mode":"stop","children":[{"name":"Player","kind":"canvas_item","visible":true}]},
	    {"name":"Gui","kind":"canvas_layer","layer":2,"children":[{"name":"Menu","kind":"control"}]}
	  ]}
	}`)
	invalid(protocol.SceneSchema, `{"name":"no_root"}`)
	invalid(protocol.SceneSchema, `{"root":{"name":"R","kind":"mesh3d"}}`)
	invalid(protocol.SceneSchema, `{"root":{"name":"a/b","kind":"group"}}`)
	invalid(protocol.SceneSchema, `{"root":{"name":"R","kind":"group","pause_mode":"later"}}`)
	invalid(protocol.SceneSchema, `{"root":{"name":"R","kind":"group","script":"player.lua"}}`)

	valid(protocol.ObserverSchema, `{"type":"SUBSCRIBE","protocol_version":"1.0","kinds":["SCENE_LOADED"]}`)
	valid(protocol.ObserverSchema, `{"type":"LOAD_SCENE","protocol_version":"1.0","req_id":"r1","scene":"res://levels/b"}`)
	valid(protocol.ObserverSchema, `{"type":"SET_GAME_STATE","protocol_version":"1.0","world":"PAUSE","gui":"PLAY"}`)
	valid(protocol.ObserverSchema, `{"type":"STATUS","protocol_version":"1.0"}`)
	valid(protocol.ObserverSchema, `{"type":"SET_NODE_ACTIVE","protocol_version":"1.0","path":"World/Player","enabled":false}`)
	invalid(protocol.ObserverSchema, `{"type":"SET_NODE_ACTIVE","protocol_version":"1.0","path":"World"}`)
	invalid(protocol.ObserverSchema, `{"type":"LOAD_SCENE","protocol_version":"1.0"}`)
	invalid(protocol.ObserverSchema, `{"type":"SET_GAME_STATE","protocol_version":"1.0","world":"STOP","gui":"PLAY"}`)
	invalid(protocol.ObserverSchema, `{"type":"HELLO","protocol_version":"1.0"}`)
}

func TestSchemas_ValidateGoValues(t *testing.T) {
	msg := protocol.SetGameStateMsg{
		Type:            protocol.TypeSetGameState,
		ProtocolVersion: protocol.Version,
		World:           "PAUSE",
		Gui:             "PLAY",
	}
	if err := protocol.Validate(protocol.ObserverSchema, msg); err != nil {
		t.Fatalf("validate struct: %v", err)
	}

	var generic map[string]any
	_ = json.Unmarshal([]byte(`{"root":{"name":"R","kind":"marker"}}`), &generic)
	if err := protocol.Validate(protocol.SceneSchema, generic); err != nil {
		t.Fatalf("validate map: %v", err)
	}

	if _, err := protocol.Schema("missing.schema.json"); err == nil {
		t.Fatalf("expected error for unknown schema")
	}
}
