package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encodings present in raw cipherbench rows, in output order.
var CipherBenchAlgorithms = []string{
	"base_64",
	"rot_13",
	"pig_latin",
	"leetspeak",
	"keyboard",
	"upside_down",
	"word_reversal",
	"word_substitution",
	"grid_encoding",
	"art_ascii",
}

// ExpandCipherBench turns raw rows ({"sentence": ..., "<algorithm>": prompt, ...})
// into one CipherBench item per algorithm and returns how many it wrote.
func ExpandCipherBench(r io.Reader, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	count := 0
	err := readJSONL(r, func(idx int, rec map[string]any) error {
		sentence, ok := rec["sentence"].(string)
		if !ok {
			return errors.New("missing sentence")
		}
		for _, algo := range CipherBenchAlgorithms {
			prompt, ok := rec[algo].(string)
			if !ok || strings.TrimSpace(prompt) == "" {
				continue
			}
			item := Item{
				ID:         fmt.Sprintf("cipherbench/%s/%06d", algo, idx),
				Dataset:    "cipherbench",
				Algorithm:  algo,
				PromptText: prompt,
				Plaintext:  sentence,
			}
			if err := enc.Encode(item); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}
