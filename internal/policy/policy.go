// Package policy holds named retry policies for mutations, loaded from YAML:
//
//	default:
//	  max_attempts: 2
//	  backoff: 500ms
//	  timeout: 15s
//	operations:
//	  submit:
//	    max_attempts: 3
//	    backoff: 1s
//	    timeout: 20s
//
// Fields left out of an operation inherit from default.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"genpipe/internal/resilient"
)

// Policy tunes the executor for one operation.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Set is a default policy plus per-operation overrides.
type Set struct {
	Default    Policy            `yaml:"default"`
	Operations map[string]Policy `yaml:"operations"`
}

// Defaults returns the built-in policies.
func Defaults() *Set {
	return &Set{
		Default: Policy{MaxAttempts: resilient.DefaultMaxAttempts, Backoff: resilient.DefaultBackoffBase, Timeout: resilient.DefaultTimeout},
		Operations: map[string]Policy{
			"submit": {MaxAttempts: 3, Backoff: time.Second, Timeout: 20 * time.Second},
			"like":   {MaxAttempts: 2, Backoff: 500 * time.Millisecond, Timeout: 10 * time.Second},
			"delete": {MaxAttempts: 2, Backoff: 500 * time.Millisecond, Timeout: 10 * time.Second},
		},
	}
}

// Load reads path and overlays it on Defaults. An empty path returns Defaults.
func Load(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return Defaults(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML and overlays it on Defaults. Unknown keys are rejected.
func Parse(data []byte) (*Set, error) {
	var file Set
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	set := Defaults()
	set.Default = merge(set.Default, file.Default)
	for name, p := range file.Operations {
		name = strings.ToLower(strings.TrimSpace(name))
		set.Operations[name] = merge(set.Operations[name], p)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func merge(base, over Policy) Policy {
	if over.MaxAttempts != 0 {
		base.MaxAttempts = over.MaxAttempts
	}
	if over.Backoff != 0 {
		base.Backoff = over.Backoff
	}
	if over.Timeout != 0 {
		base.Timeout = over.Timeout
	}
	return base
}

// Validate checks every policy for sane bounds.
func (s *Set) Validate() error {
	check := func(name string, p Policy) error {
		if p.MaxAttempts < 0 || p.MaxAttempts > 10 {
			return fmt.Errorf("policy %s: max_attempts must be between 1 and 10", name)
		}
		if p.Backoff < 0 || p.Timeout < 0 {
			return fmt.Errorf("policy %s: durations must not be negative", name)
		}
		return nil
	}
	if err := check("default", s.Default); err != nil {
		return err
	}
	for _, name := range s.Names() {
		if name == "" {
			return fmt.Errorf("policy: empty operation name")
		}
		if err := check(name, s.Operations[name]); err != nil {
			return err
		}
	}
	return nil
}

// For returns the effective policy for operation.
func (s *Set) For(operation string) Policy {
	p, ok := s.Operations[strings.ToLower(strings.TrimSpace(operation))]
	if !ok {
		return s.Default
	}
	return merge(s.Default, p)
}

// Options converts the policy for operation into executor options.
func (s *Set) Options(operation string) resilient.Options {
	p := s.For(operation)
	return resilient.Options{
		Name:        operation,
		MaxAttempts: p.MaxAttempts,
		BackoffBase: p.Backoff,
		Timeout:     p.Timeout,
	}
}

// Names lists configured operations in sorted order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.Operations))
	for name := range s.Operations {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
