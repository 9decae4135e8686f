// internal/sandbox/capability.go
package sandbox

import (
	"reflect"
	"slices"
	"sync"

	"github.com/traefik/yaegi/interp"

	"github.com/signalnine/leafdoc/internal/protocol"
)

// CapabilityPackage is the import path scripts use to reach the capability surface
const CapabilityPackage = "diagnosis"

// Context is the immutable input handed to a script's Decide function
type Context struct {
	Problem       string
	Plant         protocol.PlantVitals
	Turns         []protocol.Turn
	Hypotheses    []protocol.Hypothesis
	VitalsHistory []protocol.VitalsSnapshot
	LastReply     string
	RepairError   string
}

func (c Context) clone() Context {
	c.Turns = slices.Clone(c.Turns)
	c.Hypotheses = slices.Clone(c.Hypotheses)
	c.VitalsHistory = slices.Clone(c.VitalsHistory)
	return c
}

// recorder collects every action constructor call made during one execution
type recorder struct {
	mu      sync.Mutex
	actions []protocol.Action
}

func (r *recorder) record(a protocol.Action) protocol.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return a
}

func (r *recorder) recorded() []protocol.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.actions)
}

// capabilityExports builds the diagnosis package for a single interpreter.
// Constructors close over rec so calls from one execution never leak into another.
func capabilityExports(in Context, rec *recorder) interp.Exports {
	return interp.Exports{
		CapabilityPackage + "/" + CapabilityPackage: {
			"Context":    reflect.ValueOf((*Context)(nil)),
			"Turn":       reflect.ValueOf((*protocol.Turn)(nil)),
			"Hypothesis": reflect.ValueOf((*protocol.Hypothesis)(nil)),
			"Snapshot":   reflect.ValueOf((*protocol.VitalsSnapshot)(nil)),
			"Vitals":     reflect.ValueOf((*protocol.PlantVitals)(nil)),
			"Care":       reflect.ValueOf((*protocol.CareSchedule)(nil)),
			"Action":     reflect.ValueOf((*protocol.Action)(nil)),
			"Role":       reflect.ValueOf((*protocol.Role)(nil)),
			"Tag":        reflect.ValueOf((*protocol.ActionTag)(nil)),

			"RoleAI":   reflect.ValueOf(protocol.RoleAI),
			"RoleUser": reflect.ValueOf(protocol.RoleUser),

			"Input": reflect.ValueOf(func() Context { return in }),
			"AskUser": reflect.ValueOf(func(question string) protocol.Action {
				return rec.record(protocol.Action{Tag: protocol.ActionAskUser, Question: question})
			}),
			"GetPlantVitals": reflect.ValueOf(func(reason string) protocol.Action {
				return rec.record(protocol.Action{Tag: protocol.ActionGetPlantVitals, Reason: reason})
			}),
			"LogState": reflect.ValueOf(func(key, value string) protocol.Action {
				return rec.record(protocol.Action{Tag: protocol.ActionLogState, Key: key, Value: value})
			}),
			"Conclude": reflect.ValueOf(func(finding, recommendation string) protocol.Action {
				return rec.record(protocol.Action{Tag: protocol.ActionConclude, Finding: finding, Recommendation: recommendation})
			}),
		},
	}
}
