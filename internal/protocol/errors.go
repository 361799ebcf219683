package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Scene lifecycle.
	ErrInvalidResource   = "E_INVALID_RESOURCE"
	ErrLoadFailed        = "E_LOAD_FAILED"
	ErrInvalidSceneShape = "E_INVALID_SCENE_SHAPE"
	ErrLoadInProgress    = "E_LOAD_IN_PROGRESS"
	ErrNoScene           = "E_NO_SCENE"
	ErrNoNode            = "E_NO_NODE"
	ErrQuit              = "E_QUIT"

	// Request layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrBusy       = "E_BUSY"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:   {},
	ErrInvalidResource:   {},
	ErrLoadFailed:        {},
	ErrInvalidSceneShape: {},
	ErrLoadInProgress:    {},
	ErrNoScene:           {},
	ErrNoNode:            {},
	ErrQuit:              {},
	ErrBadRequest:        {},
	ErrBusy:              {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
