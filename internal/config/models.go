package config

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Model describes one model's context window and input price.
type Model struct {
	ContextLimit int     `yaml:"context_limit"`
	PricePer1K   float64 `yaml:"price_per_1k_input"`
}

// ModelTable maps lower-case model names to their limits.
type ModelTable map[string]Model

// DefaultModels is the built-in table. Prices are left unset; they change
// too often to hard-code.
func DefaultModels() ModelTable {
	return ModelTable{
		"o4-mini":       {ContextLimit: 200000},
		"gpt-4o":        {ContextLimit: 128000},
		"gpt-4o-mini":   {ContextLimit: 128000},
		"gpt-4.1":       {ContextLimit: 128000},
		"gpt-3.5-turbo": {ContextLimit: 16385},
	}
}

type modelFile struct {
	Models map[string]Model `yaml:"models"`
}

// LoadModelTable reads a YAML file of the form
//
//	models:
//	  gpt-4o:
//	    context_limit: 128000
//	    price_per_1k_input: 0.0025
func LoadModelTable(path string) (ModelTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model limits: %w", err)
	}
	var f modelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse model limits: %w", err)
	}
	out := make(ModelTable, len(f.Models))
	for name, m := range f.Models {
		if m.ContextLimit < 0 || m.PricePer1K < 0 {
			return nil, fmt.Errorf("model %q: limits must not be negative", name)
		}
		out[strings.ToLower(strings.TrimSpace(name))] = m
	}
	return out, nil
}

// Merge returns a copy of t with entries from other taking precedence.
// Zero fields in other keep the value from t.
func (t ModelTable) Merge(other ModelTable) ModelTable {
	out := maps.Clone(t)
	if out == nil {
		out = ModelTable{}
	}
	for name, m := range other {
		cur := out[name]
		if m.ContextLimit > 0 {
			cur.ContextLimit = m.ContextLimit
		}
		if m.PricePer1K > 0 {
			cur.PricePer1K = m.PricePer1K
		}
		out[name] = cur
	}
	return out
}

// Limit returns the context limit for model, 0 if unknown.
func (t ModelTable) Limit(model string) int {
	return t[strings.ToLower(strings.TrimSpace(model))].ContextLimit
}

// Price returns the input price per 1K tokens for model, 0 if unknown.
func (t ModelTable) Price(model string) float64 {
	return t[strings.ToLower(strings.TrimSpace(model))].PricePer1K
}
