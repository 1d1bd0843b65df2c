package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
)

// Options groups the sub-commands. The struct tags are read by go-flags.
type Options struct {
	Run    *RunCmd    `command:"run" description:"Evaluate a model on a dataset"`
	Expand *ExpandCmd `command:"expand-cipherbench" description:"Expand raw CipherBench rows into one item per encoding"`
}

func newParser() (*flags.Parser, *Options) {
	opts := &Options{Run: &RunCmd{}, Expand: &ExpandCmd{}}
	return flags.NewParser(opts, flags.Default), opts
}

func main() {
	parser, _ := newParser()
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
