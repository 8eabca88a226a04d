package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/agentcorpus/runtime/corpus/failure"
	"goa.design/agentcorpus/runtime/corpus/record"
	"goa.design/agentcorpus/runtime/corpus/resolve"
	"goa.design/agentcorpus/runtime/corpus/synth"
)

func TestPresets(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"blockchain", "metaphysics"}, Presets())

	cases := []struct {
		name  string
		tools []string
	}{
		{"blockchain", []string{"get_eth_balance", "analyze_defi_risk", "execute_swap"}},
		{"metaphysics", []string{"analyze_bazi", "read_tarot", "consult_iching", "analyze_astro", "analyze_defi_risk"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Preset(tc.name)
			require.NoError(t, err)
			require.NoError(t, c.Validate())
			require.Equal(t, tc.name, c.Preset)

			cat, err := c.Catalog()
			require.NoError(t, err)
			names := make([]string, 0, cat.Len())
			for _, def := range cat.Tools() {
				names = append(names, def.Name)
			}
			require.Equal(t, tc.tools, names)

			// Every required parameter of every tool has a value.
			args := c.Arguments()
			for _, def := range cat.Tools() {
				got := args.Build(def, "question text")
				require.Len(t, got, len(def.Parameters.Required), def.Name)
				issues, err := cat.ValidateArguments(def.Name, got)
				require.NoError(t, err)
				require.Empty(t, issues, def.Name)
			}
		})
	}
}

func TestUnknownPreset(t *testing.T) {
	t.Parallel()

	_, err := Preset("astrology")
	require.True(t, failure.Is(err, failure.KindConfig))
	require.Contains(t, err.Error(), "blockchain, metaphysics")
}

func TestDefault(t *testing.T) {
	t.Parallel()

	c := Default()
	require.Equal(t, DefaultPreset, c.Preset)
	require.Equal(t, resolve.Aliases{"instruction", "input", "question"}, c.Aliases.Instruction)
	require.Equal(t, resolve.Aliases{"output", "response", "answer"}, c.Aliases.Response)
	require.Equal(t, []any{"Aave", "Uniswap"}, c.Placeholders["protocols"])
	require.Equal(t, "1.0", c.Placeholders["amount"])

	c.Placeholders["amount"] = "2.0"
	require.Equal(t, "1.0", Default().Placeholders["amount"])
}

func TestLoadEmptyPath(t *testing.T) {
	t.Parallel()

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultPreset, c.Preset)
}

func TestParseOverlay(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`
preset: metaphysics
system_prompt: Custom prompt
aliases:
  instruction: [prompt]
placeholders:
  focus: token_price
workers: 4
`))
	require.NoError(t, err)
	require.Equal(t, "metaphysics", c.Preset)
	require.Equal(t, "Custom prompt", c.SystemPrompt)
	require.Equal(t, resolve.Aliases{"prompt"}, c.Aliases.Instruction)
	require.Equal(t, resolve.Aliases{"output", "response", "answer"}, c.Aliases.Response)
	require.Equal(t, "token_price", c.Placeholders["focus"])
	require.Equal(t, "Example Project", c.Placeholders["project_name"])
	require.Len(t, c.Derived, 2)
	require.Equal(t, 4, c.Workers)
	require.Len(t, c.Tools, 5)
}

func TestParseDisablesDerived(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte("preset: metaphysics\nderived: []\n"))
	require.NoError(t, err)
	require.Empty(t, c.Derived)

	_, ok := c.Resolver().Resolve(resolve.RawRecord{"text": "news"})
	require.False(t, ok)
}

func TestParseCustomTools(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`
tools:
  - name: verify_tx
    description: Verify a transaction
    parameters:
      properties:
        tx_hash: {type: string, description: Transaction hash}
        chain: {type: string, description: Chain name}
      required: [tx_hash]
`))
	require.NoError(t, err)
	cat, err := c.Catalog()
	require.NoError(t, err)
	require.Equal(t,
		`[{"name":"verify_tx","description":"Verify a transaction","parameters":{"type":"object","properties":{"tx_hash":{"type":"string","description":"Transaction hash"},"chain":{"type":"string","description":"Chain name"}},"required":["tx_hash"]}}]`,
		cat.JSON())
	require.Equal(t,
		map[string]any{"tx_hash": "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"},
		c.Arguments().Build(cat.At(0), "anything"))
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
		msg  string
	}{
		{"unknown key", "prest: blockchain\n", "field prest not found"},
		{"unknown preset", "preset: nope\n", `unknown preset "nope"`},
		{"empty aliases", "aliases:\n  response: []\n", "aliases.response is empty"},
		{"negative workers", "workers: -1\n", "must not be negative"},
		{"derived without field", "derived:\n  - response: r\n", "derived[0]: field is required"},
		{"derived bad verb", "derived:\n  - field: text\n    response: r\n    instruction: \"%d\"\n", "at most one %s verb"},
		{"malformed", "aliases: [\n", "decode config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			require.True(t, failure.Is(err, failure.KindConfig))
			require.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestCatalogRejectsInvalidTools(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`
tools:
  - name: broken
    parameters:
      properties:
        a: {type: string}
      required: [b]
`))
	require.NoError(t, err)
	_, err = c.Catalog()
	require.True(t, failure.Is(err, failure.KindConfig))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corpus.yaml")
	require.NoError(t, os.WriteFile(path, []byte("preset: metaphysics\nlimit: 5000\n"), 0o600))
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5000, c.Limit)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, failure.Is(err, failure.KindConfig))
}

func TestMetaphysicsSynthesis(t *testing.T) {
	t.Parallel()

	c, err := Preset("metaphysics")
	require.NoError(t, err)
	cat, err := c.Catalog()
	require.NoError(t, err)
	opts := append(c.SynthOptions(), synth.WithClock(func() time.Time { return time.Unix(1710513000, 0) }))
	s, err := synth.New(cat, opts...)
	require.NoError(t, err)

	pair, ok := c.Resolver().Resolve(resolve.RawRecord{"text": "Bitcoin breaks a new high"})
	require.True(t, ok)
	require.Equal(t, "Analyze the market impact of this crypto news: Bitcoin breaks a new high", pair.Instruction)

	tarot, ok := cat.Lookup("read_tarot")
	require.True(t, ok)
	rec, err := s.Build(pair, tarot)
	require.NoError(t, err)
	require.Equal(t, c.SystemPrompt, rec.System)
	require.Equal(t, c.Acknowledgement, rec.Conversations[1].Content)

	call, err := rec.FunctionCall()
	require.NoError(t, err)
	require.Equal(t, record.FunctionCall{
		Name:      "read_tarot",
		Arguments: map[string]any{"question": pair.Instruction},
	}, call)
}
