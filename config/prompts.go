package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Prompts holds the text/template sources used for every LLM call.
// Empty entries keep the built-in default.
type Prompts struct {
	Chat      string `yaml:"chat"`
	Summarize string `yaml:"summarize"`
	Extract   string `yaml:"extract"`
	Rank      string `yaml:"rank"`
}

func LoadPrompts(path string) (Prompts, error) {
	var p Prompts
	if path == "" {
		return p, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read prompts: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return p, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	return p, nil
}
