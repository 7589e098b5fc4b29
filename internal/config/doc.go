// Package config assembles the layered configuration engine.
//
// Settings resolve through layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  Memory                     │  ← Highest priority, session only
//	├─────────────────────────────┤
//	│  Workspace folder           │  ← <folder>/.layerconf/settings.json
//	├─────────────────────────────┤
//	│  Workspace                  │  ← *.code-workspace "settings"
//	├─────────────────────────────┤
//	│  Remote user                │  ← only with a remote authority
//	├─────────────────────────────┤
//	│  Local user                 │  ← <user config dir>/settings.json
//	├─────────────────────────────┤
//	│  Defaults                   │  ← registry defaults
//	└─────────────────────────────┘
//
// # Sub-packages
//
//   - registry: setting definitions with scope, restriction and defaults
//   - model: immutable configuration models, parsing and diffing
//   - source: one provider per layer, reading and watching its files
//   - aggregate: the merged view over every layer
//   - service: the workspace service that keeps layers and folders in sync
//   - editing: writes to settings and workspace files
//   - loader: engine options from TOML and the environment
//   - watcher: debounced file watching
//   - cache: directory and SQLite stores for remote and workspace content
//   - notify: typed events and barriers
//
// # Basic Usage
//
//	opts, err := config.LoadOptions(nil, "layerconf.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	eng, err := config.New(ctx, config.WithOptions(opts))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	if err := eng.Open(ctx, workspace.NewSingleFolderIdentifier(dir)); err != nil {
//	    log.Fatal(err)
//	}
//	tabSize, err := eng.GetInt("editor.tabSize", model.Overrides{OverrideIdentifier: "go"})
//
// # Engine Options
//
// Options are read from layerconf.toml and overridden by LAYERCONF_*
// environment variables:
//
//	log_level = "debug"
//
//	[user]
//	settings = "/home/me/.config/layerconf/settings.json"
//
//	[cache]
//	backend = "sqlite"
//	path = "/home/me/.cache/layerconf/cache.db"
//
//	[watch]
//	enabled = true
//	debounce_ms = 100
//
//	[workspace]
//	trusted = false
//	folder_policy = "strict"
//
// LAYERCONF_CACHE_BACKEND=dir maps to cache.backend and
// LAYERCONF_TRUSTED=false to workspace.trusted.
package config
