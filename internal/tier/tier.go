// Package tier holds the static inference tier table, the per-tier fallback
// chains and the score-to-tier selection rule.
package tier

import (
	"encoding/json"
	"fmt"

	"github.com/aws-agent/knowledge-assistant/pkg/config"
)

// Tier is an inference configuration ordered by capability and cost.
type Tier int

const (
	None Tier = iota
	Simple
	Standard
	Advanced
)

const (
	AdvancedThreshold = 60
	StandardThreshold = 30
)

func (t Tier) String() string {
	switch t {
	case None:
		return "none"
	case Simple:
		return "simple"
	case Standard:
		return "standard"
	case Advanced:
		return "advanced"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func (t Tier) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tier) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func Parse(name string) (Tier, error) {
	switch name {
	case "none":
		return None, nil
	case "simple":
		return Simple, nil
	case "standard":
		return Standard, nil
	case "advanced":
		return Advanced, nil
	}
	return None, fmt.Errorf("unknown tier %q", name)
}

// Config is the invocation profile of one tier.
type Config struct {
	Tier            Tier
	ModelID         string
	MaxOutputTokens int
	Temperature     float32
	CostPer1KInput  float64
	CostPer1KOutput float64
}

// Cost prices a single invocation from its token counts.
func (c Config) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1000*c.CostPer1KInput + float64(outputTokens)/1000*c.CostPer1KOutput
}

var chains = map[Tier][]Tier{
	Advanced: {Advanced, Standard, Simple},
	Standard: {Standard, Simple},
	Simple:   {Simple},
}

// Chain returns the ordered tiers attempted for a selected tier, starting
// with the tier itself. The returned slice is a copy.
func Chain(t Tier) []Tier {
	chain, ok := chains[t]
	if !ok {
		return nil
	}
	out := make([]Tier, len(chain))
	copy(out, chain)
	return out
}

// InChain reports whether used is a member of selected's fallback chain.
func InChain(selected, used Tier) bool {
	for _, t := range chains[selected] {
		if t == used {
			return true
		}
	}
	return false
}

// Select maps a complexity score to a tier.
func Select(score int) (Tier, int) {
	switch {
	case score >= AdvancedThreshold:
		return Advanced, score
	case score >= StandardThreshold:
		return Standard, score
	default:
		return Simple, score
	}
}

// Table is the immutable tier configuration, built once at start.
type Table struct {
	configs map[Tier]Config
}

func DefaultTable() *Table {
	return NewTable(map[Tier]Config{
		Simple: {
			ModelID:         "gpt-4o-mini",
			MaxOutputTokens: 1000,
			Temperature:     0.2,
			CostPer1KInput:  0.00025,
			CostPer1KOutput: 0.00125,
		},
		Standard: {
			ModelID:         "gpt-4o",
			MaxOutputTokens: 2000,
			Temperature:     0.7,
			CostPer1KInput:  0.008,
			CostPer1KOutput: 0.024,
		},
		Advanced: {
			ModelID:         "gpt-4-turbo",
			MaxOutputTokens: 4000,
			Temperature:     0.7,
			CostPer1KInput:  0.003,
			CostPer1KOutput: 0.015,
		},
	})
}

func NewTable(configs map[Tier]Config) *Table {
	t := &Table{configs: make(map[Tier]Config, len(configs))}
	for k, v := range configs {
		v.Tier = k
		t.configs[k] = v
	}
	return t
}

// FromConfig builds the table from the tiers section of the service config.
func FromConfig(cfg config.TiersConfig) *Table {
	convert := func(c config.TierConfig) Config {
		return Config{
			ModelID:         c.ModelID,
			MaxOutputTokens: c.MaxOutputTokens,
			Temperature:     c.Temperature,
			CostPer1KInput:  c.CostPer1KInput,
			CostPer1KOutput: c.CostPer1KOutput,
		}
	}
	return NewTable(map[Tier]Config{
		Simple:   convert(cfg.Simple),
		Standard: convert(cfg.Standard),
		Advanced: convert(cfg.Advanced),
	})
}

func (t *Table) Get(tier Tier) (Config, bool) {
	c, ok := t.configs[tier]
	return c, ok
}

// ModelID returns the model identifier of a tier, or "" for None.
func (t *Table) ModelID(tier Tier) string {
	return t.configs[tier].ModelID
}
