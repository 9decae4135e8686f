// internal/reasoning/generator.go
package reasoning

import "context"

// Request is one call to the reasoning service
type Request struct {
	SessionID string
	// Payload is the encoded context built for this turn
	Payload []byte
}

// Script is generated decision logic, opaque to everything but the sandbox
type Script struct {
	Source   string
	Provider string
	Model    string
}

// Generator produces a decision script from a context payload
type Generator interface {
	Generate(ctx context.Context, req Request) (*Script, error)
}
