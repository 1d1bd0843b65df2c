package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var ErrUnknownDataset = errors.New("unknown dataset")

// Item is one benchmark question. Cipher datasets fill Algorithm and Plaintext,
// the multiple-choice set fills Question, Answers and Solution.
type Item struct {
	ID      string `json:"id"`
	Dataset string `json:"dataset"`

	Algorithm  string `json:"algorithm,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	PromptText string `json:"prompt_text,omitempty"`
	Plaintext  string `json:"plaintext,omitempty"`

	Question string            `json:"question,omitempty"`
	Answers  map[string]string `json:"answers,omitempty"`
	Solution string            `json:"solution,omitempty"`
}

// Adapter knows how to read, prompt and score one dataset.
type Adapter interface {
	Name() string
	Load(r io.Reader) ([]Item, error)
	BuildPrompt(item Item) string
	Score(item Item, output string) bool
}

// Entry is a registered dataset and its file, relative to the data directory.
type Entry struct {
	Adapter Adapter
	Path    string
}

var registry = map[string]Entry{
	"cybermetric": {Adapter: CyberMetric{}, Path: filepath.Join("cybermetric", "cybermetric.json")},
	"cipherbank":  {Adapter: CipherBank{}, Path: filepath.Join("cipherbank", "cipherbank.jsonl")},
	"cipherbench": {Adapter: CipherBench{}, Path: filepath.Join("cipherbench", "cipherbench.jsonl")},
}

func Lookup(name string) (Entry, error) {
	e, ok := registry[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q (known: %s)", ErrUnknownDataset, name, strings.Join(Names(), ", "))
	}
	return e, nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// LoadFile reads the entry's file under dataDir.
func (e Entry) LoadFile(dataDir string) ([]Item, error) {
	path := filepath.Join(dataDir, e.Path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s dataset: %w", e.Adapter.Name(), err)
	}
	defer f.Close()

	items, err := e.Adapter.Load(f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return items, nil
}

// readJSONL decodes one value per non-blank line. fn receives the zero-based line index.
func readJSONL[T any](r io.Reader, fn func(idx int, rec T) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for idx := 0; scanner.Scan(); idx++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec T
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("line %d: %w", idx+1, err)
		}
		if err := fn(idx, rec); err != nil {
			return fmt.Errorf("line %d: %w", idx+1, err)
		}
	}
	return scanner.Err()
}
