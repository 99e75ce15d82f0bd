package types

// Event is a typed record emitted during a state transition, consumed by
// indexers and the RPC event feed but never re-read by the core.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
