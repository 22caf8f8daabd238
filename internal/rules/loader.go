package rules

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a rules file.
//
//	include_defaults: true
//	rules:
//	  - id: RULE_CARGO_001
//	    name: Reefer Temperature
//	    kind: threshold
//	    field: metadata.temperature
//	    op: gt
//	    value: -15
//	    ...
type File struct {
	IncludeDefaults *bool        `yaml:"include_defaults"`
	Rules           []Definition `yaml:"rules"`
}

// Parse compiles the rules described by data. Unless include_defaults is
// false, the built-in rules are included and a file rule with the same id
// replaces its built-in counterpart.
func Parse(data []byte) ([]Rule, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("parse rules: empty document")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	var defs []Definition
	if f.IncludeDefaults == nil || *f.IncludeDefaults {
		defs = DefaultDefinitions()
	}
	seen := make(map[string]bool)
	for _, d := range f.Rules {
		if seen[d.ID] {
			return nil, fmt.Errorf("parse rules: duplicate id %s", d.ID)
		}
		seen[d.ID] = true
		replaced := false
		for i := range defs {
			if defs[i].ID == d.ID {
				defs[i] = d
				replaced = true
				break
			}
		}
		if !replaced {
			defs = append(defs, d)
		}
	}

	out := make([]Rule, 0, len(defs))
	for _, d := range defs {
		r, err := d.Compile()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadFile reads and compiles a rules file.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Watch reloads path into reg whenever it changes, until ctx is cancelled.
// A file that fails to load leaves the active rules untouched. The parent
// directory is watched so the watch survives editors that save by renaming a
// temporary file over path.
func Watch(ctx context.Context, path string, reg *Registry) error {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	log.Info().Str("path", path).Msg("Watching rules file")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			loaded, err := LoadFile(path)
			if err != nil {
				log.Error().Err(err).Str("path", path).Msg("Rules reload failed, keeping previous rules")
				continue
			}
			reg.Replace(loaded)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Rules watcher error")
		}
	}
}
