package prescription

import (
	"strings"
	"unicode/utf8"
)

// Fallback values when the model ignores the output format.
const (
	DefaultMood        = "麻木"
	RestExercise       = "休息"
	adviceFallbackRune = 100
	moodMaxRunes       = 4
)

// DefaultMoodKeywords is the recognized mood vocabulary.
var DefaultMoodKeywords = []string{
	"上头", "膨胀", "装死", "幻觉", "麻木",
	"恐惧", "贪婪", "崩溃", "狂欢", "平静",
}

// Parsed holds the three fields extracted from a model reply.
type Parsed struct {
	Mood         string `json:"mood"`
	ExerciseText string `json:"exercise"`
	Advice       string `json:"advice"`
}

type field int

const (
	fieldNone field = iota
	fieldMood
	fieldExercise
	fieldAdvice
)

var fieldLabels = []struct {
	label string
	f     field
}{
	{"心情", fieldMood},
	{"运动", fieldExercise},
	{"建议", fieldAdvice},
}

// Parser extracts 【心情】/【运动】/【建议】 lines. It never fails.
type Parser struct {
	moods []string
}

// NewParser returns a parser normalizing moods against keywords.
// An empty list selects DefaultMoodKeywords.
func NewParser(keywords []string) *Parser {
	if len(keywords) == 0 {
		keywords = DefaultMoodKeywords
	}
	return &Parser{moods: append([]string(nil), keywords...)}
}

var defaultParser = NewParser(nil)

// Parse uses the default mood vocabulary.
func Parse(raw string) Parsed {
	return defaultParser.Parse(raw)
}

// Parse reads raw line by line. A later line for the same field replaces
// an earlier one. Missing fields get their fallback.
func (p *Parser) Parse(raw string) Parsed {
	var mood, exercise, advice string
	for _, line := range strings.Split(raw, "\n") {
		f, value := matchField(line)
		if value == "" {
			continue
		}
		switch f {
		case fieldMood:
			mood = value
		case fieldExercise:
			exercise = value
		case fieldAdvice:
			advice = value
		}
	}

	out := Parsed{Mood: DefaultMood, ExerciseText: RestExercise, Advice: advice}
	if mood != "" {
		out.Mood = p.normalizeMood(mood)
	}
	if exercise != "" {
		out.ExerciseText = exercise
	}
	if advice == "" {
		out.Advice = truncateRunes(strings.TrimSpace(raw), adviceFallbackRune)
	}
	return out
}

// normalizeMood prefers a vocabulary word: exact, then the first one
// contained in the value. Anything else is cut to four runes.
func (p *Parser) normalizeMood(v string) string {
	for _, k := range p.moods {
		if v == k {
			return k
		}
	}
	for _, k := range p.moods {
		if strings.Contains(v, k) {
			return k
		}
	}
	return truncateRunes(v, moodMaxRunes)
}

// matchField recognizes "【心情】..." and "心情：..." after stripping
// markdown decoration.
func matchField(line string) (field, string) {
	s := stripDecoration(strings.ReplaceAll(line, "**", ""))
	for _, fl := range fieldLabels {
		var rest string
		switch {
		case strings.HasPrefix(s, "【"+fl.label+"】"):
			rest = strings.TrimPrefix(s, "【"+fl.label+"】")
		case strings.HasPrefix(s, fl.label+"："), strings.HasPrefix(s, fl.label+":"):
			rest = strings.TrimPrefix(s, fl.label)
		default:
			continue
		}
		return fl.f, cleanValue(rest)
	}
	return fieldNone, ""
}

func stripDecoration(line string) string {
	s := strings.TrimSpace(line)
	for {
		prev := s
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimLeft(s, "#>-*•· \t")
		s = strings.TrimSpace(s)
		if s == prev {
			return s
		}
	}
}

func cleanValue(rest string) string {
	v := strings.TrimSpace(rest)
	switch {
	case strings.HasPrefix(v, "："):
		v = strings.TrimPrefix(v, "：")
	case strings.HasPrefix(v, ":"):
		v = strings.TrimPrefix(v, ":")
	}
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(v, "```")
	return strings.TrimSpace(v)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
