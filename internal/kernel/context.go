// internal/kernel/context.go
package kernel

import (
	"encoding/json"
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"github.com/signalnine/leafdoc/internal/protocol"
	"github.com/signalnine/leafdoc/internal/sandbox"
)

// ContextPolicy caps how much history is sent to the reasoning service.
// Zero values mean no cap.
type ContextPolicy struct {
	MaxHistoryTurns int
	MaxTokens       int
}

// Payload is everything the reasoning service sees for one turn
type Payload struct {
	SessionID     string                    `json:"session_id"`
	Problem       string                    `json:"problem"`
	Plant         protocol.PlantVitals      `json:"plant"`
	Turns         []protocol.Turn           `json:"turns"`
	Hypotheses    []protocol.Hypothesis     `json:"hypotheses"`
	VitalsHistory []protocol.VitalsSnapshot `json:"vitals_history"`
	OmittedTurns  int                       `json:"omitted_turns,omitempty"`
	RepairError   string                    `json:"repair_error,omitempty"`
}

// TokenCounter measures encoded payload size in model tokens
type TokenCounter interface {
	Count(text string) (int, error)
}

type tiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a cl100k_base counter
func NewTokenCounter() (TokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return tiktokenCounter{codec: codec}, nil
}

func (c tiktokenCounter) Count(text string) (int, error) {
	ids, _, err := c.codec.Encode(text)
	return len(ids), err
}

// BuildPayload assembles the context for the next reasoning call. The result
// depends only on its arguments, so an unchanged session and unchanged
// vitals always encode to the same bytes.
func BuildPayload(sess *protocol.Session, vitals protocol.PlantVitals, repairErr string, policy ContextPolicy, counter TokenCounter) (*Payload, error) {
	p := &Payload{
		SessionID:     sess.ID,
		Problem:       sess.Problem,
		Plant:         vitals,
		Turns:         nonNil(sess.Turns),
		Hypotheses:    nonNil(sess.Hypotheses),
		VitalsHistory: nonNil(sess.Vitals),
		RepairError:   repairErr,
	}

	if n := policy.MaxHistoryTurns; n > 0 && len(p.Turns) > n {
		p.OmittedTurns = len(p.Turns) - n
		p.Turns = p.Turns[p.OmittedTurns:]
	}

	if policy.MaxTokens > 0 && counter != nil {
		for len(p.Turns) > 0 {
			n, err := p.tokens(counter)
			if err != nil {
				return nil, err
			}
			if n <= policy.MaxTokens {
				break
			}
			p.Turns = p.Turns[1:]
			p.OmittedTurns++
		}
	}
	return p, nil
}

// Encode renders the payload as JSON
func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

func (p *Payload) tokens(counter TokenCounter) (int, error) {
	data, err := p.Encode()
	if err != nil {
		return 0, err
	}
	return counter.Count(string(data))
}

// SandboxContext converts the payload into the value handed to Decide
func (p *Payload) SandboxContext() sandbox.Context {
	in := sandbox.Context{
		Problem:       p.Problem,
		Plant:         p.Plant,
		Turns:         p.Turns,
		Hypotheses:    p.Hypotheses,
		VitalsHistory: p.VitalsHistory,
		RepairError:   p.RepairError,
	}
	for i := len(p.Turns) - 1; i >= 0; i-- {
		if p.Turns[i].Role == protocol.RoleUser {
			in.LastReply = p.Turns[i].Text
			break
		}
	}
	return in
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
