package model

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/dshills/layerconf/internal/config/registry"
)

// ParseOptions controls how raw settings are filtered into a model.
type ParseOptions struct {
	// Scopes admitted for registered settings. Empty admits every scope.
	Scopes []registry.Scope

	// SkipRestricted drops restricted settings. Restricted keys are still
	// reported by Parser.Restricted.
	SkipRestricted bool

	// SkipUnknownOverrideKeys drops unregistered keys inside override
	// sections.
	SkipUnknownOverrideKeys bool
}

// ParseError describes settings content that could not be parsed.
type ParseError struct {
	Name    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

type rawEntry struct {
	key   string
	value any
}

// Parser turns JSON-with-comments settings content into a Model, filtering
// by scope and trust against the registry. A Parser remembers the last raw
// content so it can be reparsed when the registry or trust changes.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	name     string
	registry *registry.Registry

	raw        []rawEntry
	model      *Model
	restricted []string
	errs       []error
}

// NewParser creates a parser. name identifies the source in errors.
func NewParser(name string, reg *registry.Registry) *Parser {
	return &Parser{
		name:     name,
		registry: reg,
		model:    Empty(),
	}
}

// Parse parses content and filters it with opts. Empty content yields an
// empty model. Malformed content yields an empty model and a ParseError in
// Errors.
func (p *Parser) Parse(content []byte, opts ParseOptions) {
	p.errs = nil
	p.raw = nil

	if len(bytes.TrimSpace(content)) > 0 {
		raw, err := decodeRaw(p.name, content)
		if err != nil {
			p.errs = append(p.errs, err)
		} else {
			p.raw = raw
		}
	}

	p.doParse(opts)
}

// ParseRaw uses an already decoded object as the raw content.
func (p *Parser) ParseRaw(raw map[string]any, opts ParseOptions) {
	p.errs = nil
	normalized, _ := Normalize(raw).(map[string]any)
	p.raw = entriesOf(normalized)
	p.doParse(opts)
}

// Reparse re-filters the last raw content with opts.
func (p *Parser) Reparse(opts ParseOptions) {
	p.errs = parseErrors(p.errs)
	p.doParse(opts)
}

// Model returns the last parsed model.
func (p *Parser) Model() *Model {
	return p.model
}

// Restricted returns the sorted restricted keys found in the raw content.
func (p *Parser) Restricted() []string {
	return append([]string(nil), p.restricted...)
}

// Errors returns the errors from the last parse.
func (p *Parser) Errors() []error {
	return append([]error(nil), p.errs...)
}

// HasParseError reports whether the last parse failed to decode.
func (p *Parser) HasParseError() bool {
	for _, err := range p.errs {
		if _, ok := err.(*ParseError); ok {
			return true
		}
	}
	return false
}

// Raw returns a copy of the last raw object.
func (p *Parser) Raw() map[string]any {
	out := make(map[string]any, len(p.raw))
	for _, e := range p.raw {
		out[e.key] = cloneValue(e.value)
	}
	return out
}

func (p *Parser) doParse(opts ParseOptions) {
	acc := &accumulator{contents: make(map[string]any), restricted: make(map[string]bool)}
	var overrides []Override

	for _, e := range p.raw {
		if registry.IsOverrideHeader(e.key) {
			section, ok := e.value.(map[string]any)
			if !ok {
				continue
			}
			ov := &accumulator{contents: make(map[string]any), restricted: acc.restricted}
			for _, se := range entriesOf(section) {
				p.collect(ov, se.key, se.value, opts, true)
			}
			acc.errs = append(acc.errs, ov.errs...)
			if len(ov.keys) == 0 {
				continue
			}
			overrides = append(overrides, Override{
				Identifiers: registry.SplitOverrideHeader(e.key),
				Contents:    ov.contents,
				Keys:        ov.keys,
			})
			continue
		}
		p.collect(acc, e.key, e.value, opts, false)
	}

	p.errs = append(p.errs, acc.errs...)
	p.restricted = sortedSet(acc.restricted)
	p.model = &Model{contents: acc.contents, keys: dedupe(acc.keys)}
	if len(overrides) > 0 {
		p.model = p.model.Merge(&Model{contents: map[string]any{}, overrides: overrides})
	}
}

type accumulator struct {
	contents   map[string]any
	keys       []string
	restricted map[string]bool
	errs       []error
}

func (p *Parser) collect(acc *accumulator, key string, value any, opts ParseOptions, inOverride bool) {
	var setting *registry.Setting
	if p.registry != nil {
		setting = p.registry.Lookup(key)
	}

	if setting != nil {
		if setting.Restricted {
			acc.restricted[setting.Key] = true
			if opts.SkipRestricted {
				return
			}
		}
		if !registry.ScopeIn(setting.EffectiveScope(), opts.Scopes) {
			return
		}
		acc.add(key, value)
		return
	}

	if obj, ok := value.(map[string]any); ok && len(obj) > 0 && p.registry != nil && p.registry.HasChildren(key) {
		for _, e := range entriesOf(obj) {
			p.collect(acc, key+"."+e.key, e.value, opts, inOverride)
		}
		return
	}

	if inOverride && opts.SkipUnknownOverrideKeys {
		return
	}
	acc.add(key, value)
}

func (a *accumulator) add(key string, value any) {
	if err := addToTree(a.contents, key, value); err != nil {
		a.errs = append(a.errs, err)
		return
	}
	a.keys = append(a.keys, key)
}

// decodeRaw decodes JSON with comments and trailing commas into ordered
// top-level entries.
func decodeRaw(name string, content []byte) ([]rawEntry, error) {
	spec := pretty.Spec(content)
	if !gjson.ValidBytes(spec) {
		return nil, &ParseError{Name: name, Message: "malformed JSON", Err: ErrInvalidJSON}
	}

	root := gjson.ParseBytes(spec)
	if !root.IsObject() {
		return nil, &ParseError{Name: name, Message: "top-level value is not an object", Err: ErrNotObject}
	}

	var entries []rawEntry
	seen := make(map[string]int)
	root.ForEach(func(k, v gjson.Result) bool {
		entry := rawEntry{key: k.String(), value: v.Value()}
		if i, dup := seen[entry.key]; dup {
			entries[i] = entry
			return true
		}
		seen[entry.key] = len(entries)
		entries = append(entries, entry)
		return true
	})
	return entries, nil
}

func entriesOf(m map[string]any) []rawEntry {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]rawEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, rawEntry{key: k, value: m[k]})
	}
	return entries
}

func parseErrors(errs []error) []error {
	var out []error
	for _, err := range errs {
		if _, ok := err.(*ParseError); ok {
			out = append(out, err)
		}
	}
	return out
}
