package prescription

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PromptVersion identifies the output contract the parser is pinned to.
// Bump it together with Parse when the field markers change.
const PromptVersion = "three-line/v1"

// ErrDivision is returned when ROI cannot be computed.
var ErrDivision = errors.New("prescription: principal must be greater than zero")

// PoolDelimiter joins the exercise pool in the context block.
const PoolDelimiter = "、"

// Prompt is the two-message payload for the model.
type Prompt struct {
	Instructions string
	Context      string
	ROI          decimal.Decimal // unrounded
	Tier         Tier
}

var hundred = decimal.NewFromInt(100)

// ROI returns amount/principal*100.
func ROI(amount, principal decimal.Decimal) (decimal.Decimal, error) {
	if !principal.IsPositive() {
		return decimal.Zero, ErrDivision
	}
	return amount.Div(principal).Mul(hundred), nil
}

// BuildPrompt renders instructions and user context. Same input, same bytes.
func (p *Policy) BuildPrompt(amount, principal decimal.Decimal, pool []string) (Prompt, error) {
	roi, err := ROI(amount, principal)
	if err != nil {
		return Prompt{}, err
	}
	tier := p.Classify(roi)

	poolText := RestExercise
	if len(pool) > 0 {
		poolText = strings.Join(pool, PoolDelimiter)
	}

	var b strings.Builder
	b.WriteString("# User Context\n")
	fmt.Fprintf(&b, "本金：%s 元\n", principal.StringFixed(0))
	fmt.Fprintf(&b, "今日盈亏：%s 元\n", amount.StringFixed(2))
	fmt.Fprintf(&b, "今日收益率 (ROI)：%s%%\n", roi.StringFixed(2))
	fmt.Fprintf(&b, "波动等级：%s\n", p.Spec(tier).Label)
	fmt.Fprintf(&b, "当前可选动作池：%s", poolText)

	return Prompt{
		Instructions: p.instructions(),
		Context:      b.String(),
		ROI:          roi,
		Tier:         tier,
	}, nil
}

// BuildPrompt uses the default policy.
func BuildPrompt(amount, principal decimal.Decimal, pool []string) (Prompt, error) {
	return defaultPolicy.BuildPrompt(amount, principal, pool)
}

func (p *Policy) instructions() string {
	if p.Instructions != "" {
		return p.Instructions
	}
	var tiers [4]TierSpec
	for t := Flat; t <= Tsunami; t++ {
		tiers[t] = p.Spec(t)
	}
	return RenderInstructions(p.Thresholds, tiers)
}

// RenderInstructions produces the built-in system prompt for the given
// thresholds and tier guidance.
func RenderInstructions(th [3]decimal.Decimal, tiers [4]TierSpec) string {
	ranges := [4]string{
		fmt.Sprintf("|ROI| < %s%%", th[0]),
		fmt.Sprintf("%s%% ≤ |ROI| < %s%%", th[0], th[1]),
		fmt.Sprintf("%s%% ≤ |ROI| < %s%%", th[1], th[2]),
		fmt.Sprintf("|ROI| ≥ %s%%", th[2]),
	}

	var b strings.Builder
	b.WriteString(instructionsHead)
	for t := Flat; t <= Tsunami; t++ {
		s := tiers[t]
		fmt.Fprintf(&b, "%d. **【%s】(%s)**\n", int(t)+1, s.Label, ranges[t])
		fmt.Fprintf(&b, "   - **人性诊断：** %s\n", s.Diagnosis)
		fmt.Fprintf(&b, "   - **运动量：** %s。\n", s.Intensity)
		fmt.Fprintf(&b, "   - **话术策略：** %s\n\n", s.Tone)
	}
	b.WriteString(instructionsTail)
	return b.String()
}

const instructionsHead = `# Role
你是一位阅尽沧桑、信奉斯多葛主义的"交易哲学家"兼"魔鬼健身教练"。
你认为：金额只是虚幻的数字，**只有波动的百分比（ROI）才能暴露人类贪婪与恐惧的本质**。
你的核心理念是：市场的涨跌是不可控的外部变量，只有肌肉的酸痛才是你唯一能掌控的真实。

# Task
请忽略绝对金额的大小，**完全根据 ROI 的剧烈程度**，洞察用户此刻的人性弱点（贪婪或恐惧），并开具"身心对冲处方"。

# Logic Rules (基于 ROI 的人性审判)

`

const instructionsTail = `# Output Format (Strict)
请直接输出以下三行内容，不要包含 markdown 标记或其他废话：
【心情】(根据人性诊断，用两个字精准概括，如：上头/膨胀/装死/幻觉)
【运动】(严格按照 ROI 区间生成的具体动作，多个动作用中文逗号分隔，如：深蹲×20，波比跳×15，平板支撑1分钟)
【建议】(必须结合 ROI 百分比来吐槽。微利大波动要嘲讽穷折腾，大额大波动要嘲讽赌性。100字以内，犀利、扎心。)`
