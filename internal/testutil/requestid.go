package testutil

// FixedRequestIDGenerator returns the same request id every time.
//
// This keeps request logs and golden snapshots byte-identical across runs.
//
// Thread-safety: FixedRequestIDGenerator is stateless and safe for
// concurrent use.
type FixedRequestIDGenerator struct {
	id string
}

// NewFixedRequestIDGenerator creates a fixed generator. If id is empty,
// Generate returns "test-request".
func NewFixedRequestIDGenerator(id string) *FixedRequestIDGenerator {
	if id == "" {
		id = "test-request"
	}
	return &FixedRequestIDGenerator{id: id}
}

// Generate returns the fixed id. Implements remote.RequestIDGenerator.
func (g *FixedRequestIDGenerator) Generate() string {
	return g.id
}
