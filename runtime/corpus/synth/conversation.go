// Package synth assembles the fixed five-turn agent conversation from a
// resolved instruction/response pair.
//
// Tool selection is the only source of nondeterminism besides the observation
// timestamp; both come from capabilities injected at construction so tests
// can pin them.
package synth

import (
	"math/rand/v2"
	"time"

	"goa.design/agentcorpus/runtime/corpus/failure"
	"goa.design/agentcorpus/runtime/corpus/record"
	"goa.design/agentcorpus/runtime/corpus/resolve"
	"goa.design/agentcorpus/runtime/corpus/tools"
)

const (
	// DefaultAcknowledgement is the fixed second turn.
	DefaultAcknowledgement = "I'll help you with this task. Let me analyze the request."
	// DefaultSystemPrompt is used when no prompt is configured.
	DefaultSystemPrompt = "You are a professional blockchain AI agent, skilled at analyzing and executing " +
		"blockchain operations. You carefully evaluate the risk of every operation and keep user assets safe."
)

type (
	// Rand picks tool indices. *rand.Rand from math/rand/v2 satisfies it.
	Rand interface {
		IntN(n int) int
	}

	// Clock returns the synthesis instant.
	Clock func() time.Time

	// Synthesizer builds conversation records. It is not safe for concurrent
	// use of Pick; Build is safe once constructed.
	Synthesizer struct {
		catalog *tools.Catalog
		args    Arguments
		system  string
		ack     string
		rng     Rand
		clock   Clock
	}

	// Option configures a Synthesizer.
	Option func(*Synthesizer)

	globalRand struct{}
)

// WithSystemPrompt sets the system prompt of every record.
func WithSystemPrompt(prompt string) Option {
	return func(s *Synthesizer) { s.system = prompt }
}

// WithAcknowledgement sets the fixed assistant acknowledgement turn.
func WithAcknowledgement(ack string) Option {
	return func(s *Synthesizer) { s.ack = ack }
}

// WithArguments sets the argument synthesizer.
func WithArguments(a Arguments) Option {
	return func(s *Synthesizer) { s.args = a }
}

// WithRand sets the random source used for tool selection.
func WithRand(r Rand) Option {
	return func(s *Synthesizer) {
		if r != nil {
			s.rng = r
		}
	}
}

// WithSeed selects tools with a PCG source seeded with seed.
func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed)))
}

// WithClock sets the time source for observation timestamps.
func WithClock(c Clock) Option {
	return func(s *Synthesizer) {
		if c != nil {
			s.clock = c
		}
	}
}

// New returns a Synthesizer advertising catalog. A nil or empty catalog is a
// configuration error.
func New(catalog *tools.Catalog, opts ...Option) (*Synthesizer, error) {
	if catalog == nil || catalog.Len() == 0 {
		return nil, failure.New(failure.KindConfig, "synthesizer requires a non-empty tool catalog")
	}
	s := &Synthesizer{
		catalog: catalog,
		system:  DefaultSystemPrompt,
		ack:     DefaultAcknowledgement,
		rng:     globalRand{},
		clock:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Catalog returns the advertised catalog.
func (s *Synthesizer) Catalog() *tools.Catalog {
	return s.catalog
}

// Pick selects one tool uniformly at random.
func (s *Synthesizer) Pick() tools.ToolDefinition {
	return s.catalog.At(s.rng.IntN(s.catalog.Len()))
}

// Synthesize picks a tool and builds the record for pair.
func (s *Synthesizer) Synthesize(pair resolve.Pair) (record.Record, error) {
	return s.Build(pair, s.Pick())
}

// Build assembles the five turns for pair using tool for the function call.
// The only failure is a payload that cannot be encoded.
func (s *Synthesizer) Build(pair resolve.Pair, tool tools.ToolDefinition) (record.Record, error) {
	call, err := record.Encode(record.FunctionCall{
		Name:      tool.Name,
		Arguments: s.args.Build(tool, pair.Instruction),
	})
	if err != nil {
		return record.Record{}, failure.Wrap(failure.KindSerialization, "encode function call", err)
	}
	obs, err := record.Encode(record.Observation{
		Status:    record.StatusSuccess,
		Data:      pair.Response,
		Timestamp: s.clock().Unix(),
	})
	if err != nil {
		return record.Record{}, failure.Wrap(failure.KindSerialization, "encode observation", err)
	}
	return record.Record{
		Conversations: []record.Turn{
			{Role: record.RoleUser, Content: pair.Instruction},
			{Role: record.RoleAssistant, Content: s.ack},
			{Role: record.RoleFunctionCall, Content: string(call)},
			{Role: record.RoleObservation, Content: string(obs)},
			{Role: record.RoleAssistant, Content: pair.Response},
		},
		Tools:  s.catalog.JSON(),
		System: s.system,
	}, nil
}

func (globalRand) IntN(n int) int { return rand.IntN(n) }
