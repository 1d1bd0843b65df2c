package dataset

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const strictDecoderRules = "You are a strict decoder.\n" +
	"You MUST follow these rules exactly:\n" +
	"1. DO NOT show your reasoning.\n" +
	"2. DO NOT explain what you are doing.\n" +
	"3. Your ENTIRE response must be exactly ONE line.\n" +
	"4. That line must start with 'ANSWER:' followed by a space and the decoded plaintext.\n" +
	"5. If you output anything other than this single ANSWER line, your answer will be considered WRONG.\n" +
	"6. Do not add quotes around the plaintext. Do not add extra punctuation.\n\n"

const decoderFooter = "Now respond in exactly this format:\n" +
	"ANSWER: <decoded plaintext>\n"

// CipherBank asks for decryption of a ciphertext under a named classical cipher.
type CipherBank struct{}

func (CipherBank) Name() string { return "cipherbank" }

func (CipherBank) Load(r io.Reader) ([]Item, error) {
	var items []Item
	err := readJSONL(r, func(_ int, rec Item) error {
		if rec.ID == "" || rec.Algorithm == "" || rec.Plaintext == "" {
			return errors.New("record needs id, algorithm and plaintext")
		}
		if rec.Dataset == "" {
			rec.Dataset = "cipherbank"
		}
		items = append(items, rec)
		return nil
	})
	return items, err
}

func (CipherBank) BuildPrompt(item Item) string {
	return strictDecoderRules +
		fmt.Sprintf("The following text has been encrypted using the %s cipher.\n\n", item.Algorithm) +
		"Ciphertext:\n" + item.Ciphertext + "\n\n" +
		decoderFooter
}

func (CipherBank) Score(item Item, output string) bool {
	return scoreDecoding(item.Plaintext, output)
}

// CipherBench carries puzzle-style prompts, one per encoding, produced by ExpandCipherBench.
type CipherBench struct{}

func (CipherBench) Name() string { return "cipherbench" }

func (CipherBench) Load(r io.Reader) ([]Item, error) {
	var items []Item
	err := readJSONL(r, func(_ int, rec Item) error {
		if rec.ID == "" || rec.PromptText == "" || rec.Plaintext == "" {
			return errors.New("record needs id, prompt_text and plaintext (run expand-cipherbench on raw files)")
		}
		if rec.Dataset == "" {
			rec.Dataset = "cipherbench"
		}
		items = append(items, rec)
		return nil
	})
	return items, err
}

func (CipherBench) BuildPrompt(item Item) string {
	return strictDecoderRules +
		strings.TrimRight(item.PromptText, " \t\r\n") + "\n\n" +
		decoderFooter
}

func (CipherBench) Score(item Item, output string) bool {
	return scoreDecoding(item.Plaintext, output)
}

// scoreDecoding accepts an exact ANSWER: match or, failing that, the plaintext
// appearing anywhere in the output.
func scoreDecoding(plaintext, output string) bool {
	text := strings.TrimSpace(output)
	gold := strings.TrimSpace(plaintext)
	if text == "" || gold == "" {
		return false
	}
	if answerLine(text) == gold {
		return true
	}
	return strings.Contains(text, gold)
}

// answerLine returns the text after the last "ANSWER:" line, or the last non-empty line.
func answerLine(text string) string {
	lines := nonEmptyLines(text)
	for i := len(lines) - 1; i >= 0; i-- {
		if tail, ok := cutAnswerPrefix(lines[i]); ok {
			return tail
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}

func cutAnswerPrefix(line string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(line), "answer:") {
		return "", false
	}
	_, tail, _ := strings.Cut(line, ":")
	return strings.TrimSpace(tail), true
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
