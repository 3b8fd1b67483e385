// Package config provides hierarchical configuration resolution.
//
// Settings are merged from layered sources with clear precedence:
//  1. Command-line flags (highest priority)
//  2. Environment variables
//  3. Local config (e.g., .autoflow.yaml in the git root)
//  4. Global config (e.g., ~/.config/autoflow/config.yaml)
//  5. Built-in defaults (lowest priority)
//
// # Basic Usage
//
// Create a resolver with the application's settings:
//
//	resolver := config.NewResolver(config.ResolverConfig{
//	    EnvPrefix:       "AUTOFLOW_",
//	    GlobalConfigDir: "autoflow",
//	    LocalConfigName: ".autoflow.yaml",
//	    Defaults: map[string]string{
//	        "threshold": "4",
//	        "workers":   "4",
//	    },
//	})
//
//	cfg := resolver.Resolve()
//	fmt.Println(cfg.Get("threshold"))    // "4"
//	fmt.Println(cfg.Source("threshold")) // "default"
//
// # Environment Variables
//
// Environment variables are detected using the configured prefix:
//
//	# With EnvPrefix: "AUTOFLOW_"
//	AUTOFLOW_THRESHOLD=4.5     # sets "threshold"
//	AUTOFLOW_STAGE_TIMEOUT=90s # sets "stage_timeout"
//
// # Config Sources
//
// Each resolved value tracks where it came from:
//   - "default": built-in default value
//   - "global": ~/.config/<app>/config.yaml
//   - "local": .autoflow.yaml in the git root
//   - "env": environment variable
//   - "flag": command-line flag (via ResolveWithFlags)
//
// # Git Root Detection
//
// By default, the resolver looks for the local config in the git repository
// root. A custom GitRootFinder can replace the built-in .git-directory walk.
//
// Values are written back with SaveConfig, which updates one key in the
// global or local YAML file while preserving the rest.
package config
