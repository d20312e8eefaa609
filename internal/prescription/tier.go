package prescription

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Tier is a volatility band over |ROI%|, ordered from calm to violent.
type Tier int

const (
	Flat Tier = iota
	Ripple
	Wave
	Tsunami
)

var tierNames = [...]string{"Flat", "Ripple", "Wave", "Tsunami"}

func (t Tier) String() string {
	if t < Flat || t > Tsunami {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// Label returns the Chinese tier name used in prompts and the UI.
func (t Tier) Label() string { return t.Spec().Label }

// Spec returns the default guidance attached to the tier.
func (t Tier) Spec() TierSpec {
	if t < Flat || t > Tsunami {
		return TierSpec{}
	}
	return DefaultTiers[t]
}

// MarshalText renders the tier by name so JSON and logs stay readable.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// TierSpec is the intensity guidance passed to the model. Sets is a hint,
// the model writes the literal exercise text.
type TierSpec struct {
	Label     string
	Diagnosis string
	Intensity string
	Tone      string
	Sets      int
}

// DefaultTiers is the built-in guidance table, indexed by Tier.
var DefaultTiers = [4]TierSpec{
	Flat: {
		Label:     "死水区",
		Diagnosis: "庸人自扰。试图在没有波动的市场里寻找存在感。",
		Intensity: "**0** (休息)",
		Tone:      "极尽嘲讽。告诉他这点波动连心电图都算不上，别浪费时间打开 App，该干嘛干嘛去。",
		Sets:      0,
	},
	Ripple: {
		Label:     "涟漪区",
		Diagnosis: "正常的心理起伏。",
		Intensity: "**1组 轻量动作** (如深蹲×15)",
		Tone:      "提醒他这是市场的随机漫步，不要产生\"我在赚钱\"或\"我在亏钱\"的幻觉，保持平常心。",
		Sets:      1,
	},
	Wave: {
		Label:     "浪潮区",
		Diagnosis: "贪婪或恐惧开始滋生。",
		Intensity: "**2组 组合动作** (如波比跳×10 + 俯卧撑×20)",
		Tone:      "警告他。如果是赚了，告诉他这是市场的诱饵；如果是亏了，告诉他痛苦是最好的清醒剂。",
		Sets:      2,
	},
	Tsunami: {
		Label:     "海啸区",
		Diagnosis: "赌徒狂欢或精神崩溃边缘。",
		Intensity: "**3组 高强度力竭动作** (如波比跳×20 + 深蹲×50 + 平板支撑2分钟)",
		Tone:      "严厉训斥。告诉他这已经不是投资，是赌博。无论输赢，他都已经失控了，必须通过肉体的极度痛苦来找回对自己身体的控制权。",
		Sets:      3,
	},
}

// DefaultThresholds are the lower bounds of Ripple, Wave and Tsunami in percent.
var DefaultThresholds = [3]decimal.Decimal{
	decimal.NewFromInt(1),
	decimal.NewFromInt(3),
	decimal.NewFromInt(7),
}

// Policy is the tunable part of the pipeline: tier thresholds, per-tier
// guidance, the exercise strategy and an optional instruction override.
type Policy struct {
	Thresholds   [3]decimal.Decimal
	Tiers        [4]TierSpec // entries with an empty Label use DefaultTiers
	Strategy     ExerciseStrategy
	Instructions string // empty renders the built-in instructions
}

// DefaultPolicy returns thresholds 1/3/7 with model-written exercises.
func DefaultPolicy() *Policy {
	return &Policy{Thresholds: DefaultThresholds, Tiers: DefaultTiers, Strategy: ModelStrategy{}}
}

// Spec returns the guidance this policy attaches to t.
func (p *Policy) Spec(t Tier) TierSpec {
	if t < Flat || t > Tsunami {
		return TierSpec{}
	}
	if p.Tiers[t].Label == "" {
		return DefaultTiers[t]
	}
	return p.Tiers[t]
}

// NewPolicy builds a policy from ascending positive thresholds.
func NewPolicy(thresholds []float64, strategy ExerciseStrategy) (*Policy, error) {
	if len(thresholds) != 3 {
		return nil, fmt.Errorf("prescription: need 3 thresholds, got %d", len(thresholds))
	}
	p := &Policy{Tiers: DefaultTiers, Strategy: strategy}
	prev := decimal.Zero
	for i, f := range thresholds {
		d := decimal.NewFromFloat(f)
		if !d.GreaterThan(prev) {
			return nil, fmt.Errorf("prescription: threshold %d (%s) must exceed %s", i, d, prev)
		}
		p.Thresholds[i] = d
		prev = d
	}
	if p.Strategy == nil {
		p.Strategy = ModelStrategy{}
	}
	return p, nil
}

// Classify maps a signed ROI percentage to its tier. Lower bounds are
// inclusive; the sign is ignored.
func (p *Policy) Classify(roi decimal.Decimal) Tier {
	abs := roi.Abs()
	tier := Flat
	for i, th := range p.Thresholds {
		if abs.GreaterThanOrEqual(th) {
			tier = Tier(i + 1)
		}
	}
	return tier
}

var defaultPolicy = DefaultPolicy()

// Classify uses the default 1/3/7 thresholds.
func Classify(roi decimal.Decimal) Tier {
	return defaultPolicy.Classify(roi)
}
