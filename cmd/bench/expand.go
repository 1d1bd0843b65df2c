package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vnmchuo/crypto-bench/internal/dataset"
)

// ExpandCmd converts the raw CipherBench release into the per-encoding file the run command reads.
type ExpandCmd struct {
	In  string `long:"in" description:"raw cipherbench JSONL" default:"datasets/cipherbench/cipherbench_raw.jsonl"`
	Out string `long:"out" description:"expanded JSONL" default:"datasets/cipherbench/cipherbench.jsonl"`
}

func (c *ExpandCmd) Execute(_ []string) error {
	if filepath.Clean(c.In) == filepath.Clean(c.Out) {
		return fmt.Errorf("--in and --out must differ")
	}
	in, err := os.Open(c.In)
	if err != nil {
		return fmt.Errorf("input file not found: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(c.Out), 0o755); err != nil {
		return err
	}
	out, err := os.Create(c.Out)
	if err != nil {
		return err
	}

	n, err := dataset.ExpandCipherBench(in, out)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("expand %s: %w", c.In, err)
	}
	fmt.Printf("[OK] Wrote %d expanded items to %s\n", n, c.Out)
	return nil
}
