package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// World routing/state.
	ErrWorldBusy     = "E_WORLD_BUSY"
	ErrWorldNotFound = "E_WORLD_NOT_FOUND"

	// Change layer.
	ErrBadRequest    = "E_BAD_REQUEST"
	ErrUnknownBlock  = "E_UNKNOWN_BLOCK"
	ErrInvalidTarget = "E_INVALID_TARGET"
	ErrStopped       = "E_STOPPED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrWorldBusy:       {},
	ErrWorldNotFound:   {},
	ErrBadRequest:      {},
	ErrUnknownBlock:    {},
	ErrInvalidTarget:   {},
	ErrStopped:         {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ErrorMsg is the body of every non-2xx HTTP response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
