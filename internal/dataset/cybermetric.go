package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"
)

var choiceLetter = regexp.MustCompile(`\b([ABCD])\b`)

// CyberMetric is the multiple-choice set, stored as a single JSON document.
type CyberMetric struct{}

type cyberMetricDoc struct {
	Questions []Item `json:"questions"`
}

func (CyberMetric) Name() string { return "cybermetric" }

func (CyberMetric) Load(r io.Reader) ([]Item, error) {
	var doc cyberMetricDoc
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode cybermetric: %w", err)
	}
	items := make([]Item, 0, len(doc.Questions))
	for idx, q := range doc.Questions {
		if q.ID == "" {
			q.ID = fmt.Sprintf("cybermetric/%06d", idx)
		}
		if q.Dataset == "" {
			q.Dataset = "cybermetric"
		}
		if q.Question == "" || len(q.Answers) == 0 {
			return nil, fmt.Errorf("question %s has no text or choices", q.ID)
		}
		q.Solution = strings.ToUpper(strings.TrimSpace(q.Solution))
		items = append(items, q)
	}
	return items, nil
}

func (CyberMetric) BuildPrompt(item Item) string {
	lines := []string{
		"You are a cryptography expert.",
		"",
		"You MUST follow these rules exactly:",
		"1. Carefully read the question and all answer choices.",
		"2. DO NOT show your reasoning.",
		"3. DO NOT explain your answer.",
		"4. Your ENTIRE response must be exactly ONE line.",
		"5. That line must start with 'ANSWER:' followed by a space and a single letter.",
		"6. The letter must be one of: A, B, C, or D.",
		"7. If you output anything other than this single ANSWER line, your answer will be considered WRONG.",
		"",
		"Question:",
		item.Question,
		"",
		"Choices:",
	}
	letters := make([]string, 0, len(item.Answers))
	for letter := range item.Answers {
		letters = append(letters, letter)
	}
	slices.Sort(letters)
	for _, letter := range letters {
		lines = append(lines, fmt.Sprintf("%s: %s", letter, item.Answers[letter]))
	}
	lines = append(lines,
		"",
		"Now respond in exactly this format:",
		"ANSWER: <one letter: A, B, C, or D>",
	)
	return strings.Join(lines, "\n")
}

func (CyberMetric) Score(item Item, output string) bool {
	text := strings.ToUpper(strings.TrimSpace(output))
	if text == "" {
		return false
	}
	return choice(text) == item.Solution
}

// choice picks the letter from the last ANSWER: line, falling back to the first
// standalone A-D anywhere in text.
func choice(text string) string {
	lines := nonEmptyLines(text)
	for i := len(lines) - 1; i >= 0; i-- {
		tail, ok := cutAnswerPrefix(lines[i])
		if !ok {
			continue
		}
		if m := choiceLetter.FindStringSubmatch(tail); m != nil {
			return m[1]
		}
		break
	}
	if m := choiceLetter.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}
