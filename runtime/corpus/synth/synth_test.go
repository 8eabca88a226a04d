package synth

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/agentcorpus/runtime/corpus/failure"
	"goa.design/agentcorpus/runtime/corpus/record"
	"goa.design/agentcorpus/runtime/corpus/resolve"
	"goa.design/agentcorpus/runtime/corpus/tools"
)

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

var frozen = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

func testCatalog() *tools.Catalog {
	str := func(name string) tools.Property {
		return tools.Property{Name: name, Type: tools.KindString, Description: name}
	}
	return tools.MustCatalog(
		tools.ToolDefinition{
			Name:        "get_eth_balance",
			Description: "Get ETH balance",
			Parameters: tools.Schema{
				Properties: tools.Properties{str("address"), str("block_number")},
				Required:   []string{"address"},
			},
		},
		tools.ToolDefinition{
			Name:        "analyze_defi_risk",
			Description: "Analyze DeFi portfolio risk",
			Parameters: tools.Schema{
				Properties: tools.Properties{
					str("address"),
					{Name: "protocols", Type: tools.KindArray, Items: &tools.Items{Type: tools.KindString}},
					str("time_range"),
				},
				Required: []string{"address", "protocols"},
			},
		},
		tools.ToolDefinition{
			Name:        "read_tarot",
			Description: "Tarot reading",
			Parameters: tools.Schema{
				Properties: tools.Properties{str("question"), str("spread_type")},
				Required:   []string{"question"},
			},
		},
		tools.ToolDefinition{
			Name:        "verify_tx",
			Description: "Verify a transaction",
			Parameters: tools.Schema{
				Properties: tools.Properties{str("tx_hash"), str("chain")},
				Required:   []string{"tx_hash", "chain"},
			},
		},
	)
}

func testArguments() Arguments {
	return Arguments{
		Placeholders: map[string]any{
			"address":      "0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
			"protocols":    []any{"Aave", "Uniswap"},
			"tx_hash":      "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060",
			"block_number": "19000000",
			"empty":        "",
		},
		FreeText: []string{"question"},
	}
}

func TestArgumentsBuild(t *testing.T) {
	t.Parallel()

	c := testCatalog()
	a := testArguments()

	balance, _ := c.Lookup("get_eth_balance")
	require.Equal(t, map[string]any{"address": "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"}, a.Build(balance, "q"))

	tarot, _ := c.Lookup("read_tarot")
	require.Equal(t, map[string]any{"question": "Will ETH rise?"}, a.Build(tarot, "Will ETH rise?"))

	// chain has no placeholder and is dropped rather than invented.
	verify, _ := c.Lookup("verify_tx")
	require.Equal(t, map[string]any{"tx_hash": "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"}, a.Build(verify, "q"))

	// Free text is dropped when the instruction is blank.
	require.Empty(t, a.Build(tarot, " "))
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	var nilMap map[string]any
	var nilPtr *string
	for _, v := range []any{nil, "", "  ", []any{}, map[string]any{}, nilMap, nilPtr, [0]int{}} {
		require.True(t, isEmpty(v), "%#v", v)
	}
	for _, v := range []any{"x", 0, false, []string{"a"}, map[string]int{"a": 1}} {
		require.False(t, isEmpty(v), "%#v", v)
	}
}

func TestNewRequiresCatalog(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	require.Error(t, err)
	require.True(t, failure.Is(err, failure.KindConfig))
}

func TestSynthesizeConcreteRecord(t *testing.T) {
	t.Parallel()

	s, err := New(testCatalog(),
		WithArguments(testArguments()),
		WithRand(fixedRand(0)),
		WithClock(func() time.Time { return frozen }),
		WithSystemPrompt("system"),
	)
	require.NoError(t, err)

	pair, ok := resolve.Resolve(
		resolve.RawRecord{"instruction": "Check balance of 0xABC", "output": "Balance is 1.5 ETH"},
		resolve.Aliases{"instruction", "input", "question"},
		resolve.Aliases{"output", "response", "answer"},
	)
	require.True(t, ok)

	rec, err := s.Synthesize(pair)
	require.NoError(t, err)
	require.Len(t, rec.Conversations, 5)
	require.Equal(t, "Check balance of 0xABC", rec.Conversations[0].Content)
	require.Equal(t, DefaultAcknowledgement, rec.Conversations[1].Content)
	require.Equal(t, `{"name":"get_eth_balance","arguments":{"address":"0x742d35Cc6634C0532925a3b844Bc454e4438f44e"}}`,
		rec.Conversations[2].Content)
	require.Equal(t, `{"status":"success","data":"Balance is 1.5 ETH","timestamp":1710513000}`,
		rec.Conversations[3].Content)
	require.Equal(t, "Balance is 1.5 ETH", rec.Conversations[4].Content)
	require.Equal(t, "system", rec.System)
	require.Equal(t, s.Catalog().JSON(), rec.Tools)
}

func TestSynthesizeWallClockTimestamp(t *testing.T) {
	t.Parallel()

	s, err := New(testCatalog())
	require.NoError(t, err)

	before := time.Now().Unix()
	rec, err := s.Synthesize(resolve.Pair{Instruction: "i", Response: "r"})
	require.NoError(t, err)
	after := time.Now().Unix()

	obs, err := rec.Observation()
	require.NoError(t, err)
	require.GreaterOrEqual(t, obs.Timestamp, before)
	require.LessOrEqual(t, obs.Timestamp, after)
	require.Equal(t, DefaultSystemPrompt, rec.System)
}

func TestSeededSelectionIsReproducible(t *testing.T) {
	t.Parallel()

	pick := func() []string {
		s, err := New(testCatalog(), WithSeed(42))
		require.NoError(t, err)
		var names []string
		for range 20 {
			names = append(names, s.Pick().Name)
		}
		return names
	}
	require.Equal(t, pick(), pick())
}

func genPair() gopter.Gen {
	return gopter.CombineGens(gen.Identifier(), gen.Identifier()).Map(func(v []any) resolve.Pair {
		return resolve.Pair{Instruction: v[0].(string), Response: v[1].(string)}
	})
}

func TestSynthesisProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	catalog := testCatalog()
	args := testArguments()

	properties.Property("argument closure", prop.ForAll(
		func(idx int, instruction string) bool {
			tool := catalog.At(idx)
			got := args.Build(tool, instruction)
			for k, v := range got {
				if !containsString(tool.Parameters.Required, k) || isEmpty(v) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, catalog.Len()-1),
		gen.AnyString(),
	))

	properties.Property("tools completeness and turn shape", prop.ForAll(
		func(idx int, pair resolve.Pair) bool {
			s, err := New(catalog, WithArguments(args), WithRand(fixedRand(idx)), WithClock(func() time.Time { return frozen }))
			if err != nil {
				return false
			}
			rec, err := s.Synthesize(pair)
			if err != nil {
				return false
			}
			var advertised []map[string]any
			if err := json.Unmarshal([]byte(rec.Tools), &advertised); err != nil || len(advertised) != catalog.Len() {
				return false
			}
			if len(rec.Conversations) != len(record.Shape) {
				return false
			}
			for i, turn := range rec.Conversations {
				if turn.Role != record.Shape[i] {
					return false
				}
			}
			fc, err := rec.FunctionCall()
			if err != nil || fc.Name != catalog.At(idx).Name {
				return false
			}
			return rec.Conversations[0].Content == pair.Instruction && rec.Conversations[4].Content == pair.Response
		},
		gen.IntRange(0, catalog.Len()-1),
		genPair(),
	))

	properties.TestingRun(t)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
