package types

// Event is one entry in the engine's event stream: a type tag such as
// "collateral.deposited" plus string attributes (addresses in hex, amounts as
// decimal strings). Events are buffered per operation and delivered only when
// the operation commits.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
