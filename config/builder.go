// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fragment is a piece of YAML and where it came from
type fragment struct {
	source string
	yaml   string
}

// Builder layers board profiles, config files and inline YAML over a base
// config. Fragments apply in the order they are added; errors are collected
// and reported by Build, each naming the fragment it came from.
type Builder struct {
	fragments []fragment
	errs      error
	Config    *Config
}

// Use sets the base configuration
func (b *Builder) Use(c *Config) *Builder {
	b.Config = c
	return b
}

// Merge adds inline YAML fragments
func (b *Builder) Merge(yamls ...string) *Builder {
	for _, y := range yamls {
		b.fragments = append(b.fragments, fragment{
			source: fmt.Sprintf("fragment %d", len(b.fragments)+1),
			yaml:   y,
		})
	}
	return b
}

// MergeProfile adds the named board profile. An empty name adds nothing.
func (b *Builder) MergeProfile(name string) *Builder {
	if name == "" {
		return b
	}
	p, err := Profile(name)
	if err != nil {
		b.errs = errors.Join(b.errs, err)
		return b
	}
	b.fragments = append(b.fragments, fragment{source: "profile " + name, yaml: p})
	return b
}

// MergeFile adds the YAML file at path. An empty path adds nothing.
func (b *Builder) MergeFile(path string) *Builder {
	if path == "" {
		return b
	}
	data, err := os.ReadFile(path)
	if err != nil {
		b.errs = errors.Join(b.errs, fmt.Errorf("failed to read config file: %w", err))
		return b
	}
	b.fragments = append(b.fragments, fragment{source: path, yaml: string(data)})
	return b
}

// Build merges every fragment into the base configuration and validates the
// result
func (b *Builder) Build() (*Config, error) {
	if b.Config == nil {
		b.Config = DefaultConfig()
	}

	errs := b.errs
	for _, f := range b.fragments {
		additional := &Config{}
		if err := yaml.Unmarshal([]byte(f.yaml), additional); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: failed to parse YAML: %w", f.source, err))
			continue
		}
		if err := mergo.Merge(b.Config, additional, mergo.WithOverride, mergo.WithTransformers(boolPtrTransformer{})); err != nil {
			errs = errors.Join(errs, fmt.Errorf("%s: failed to merge config: %w", f.source, err))
		}
	}
	if errs != nil {
		return nil, errs
	}

	b.Config.sanitize()
	if err := b.Config.Validate(); err != nil {
		return nil, err
	}
	return b.Config, nil
}

// boolPtrTransformer lets an explicit false in a fragment override true
type boolPtrTransformer struct{}

func (boolPtrTransformer) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	if typ != reflect.TypeOf((*bool)(nil)) {
		return nil
	}
	return func(dst, src reflect.Value) error {
		if !src.IsNil() && dst.CanSet() {
			dst.Set(src)
		}
		return nil
	}
}
