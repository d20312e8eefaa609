package prescription

import (
	"fmt"
	"strings"
)

// ExerciseStrategy decides the final exercise text from the tier's guidance.
type ExerciseStrategy interface {
	Exercise(spec TierSpec, pool []string, modelText string) string
	Name() string
}

// ModelStrategy keeps whatever the model wrote.
type ModelStrategy struct{}

func (ModelStrategy) Name() string { return "model" }

func (ModelStrategy) Exercise(_ TierSpec, _ []string, modelText string) string {
	if strings.TrimSpace(modelText) == "" {
		return RestExercise
	}
	return modelText
}

// FormulaStrategy ignores the model and prescribes the first Sets
// exercises of the pool at BaseReps*Sets repetitions each.
type FormulaStrategy struct {
	BaseReps int
}

func (FormulaStrategy) Name() string { return "formula" }

func (f FormulaStrategy) Exercise(spec TierSpec, pool []string, _ string) string {
	sets := spec.Sets
	if sets == 0 || len(pool) == 0 {
		return RestExercise
	}
	base := f.BaseReps
	if base <= 0 {
		base = 10
	}
	n := min(sets, len(pool))
	parts := make([]string, n)
	for i := range n {
		parts[i] = fmt.Sprintf("%s×%d", pool[i], base*sets)
	}
	return strings.Join(parts, "，")
}

// StrategyByName resolves the configured strategy.
func StrategyByName(name string, baseReps int) (ExerciseStrategy, error) {
	switch name {
	case "", "model":
		return ModelStrategy{}, nil
	case "formula":
		return FormulaStrategy{BaseReps: baseReps}, nil
	}
	return nil, fmt.Errorf("prescription: unknown exercise strategy %q", name)
}
