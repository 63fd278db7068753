// Package config loads, normalizes, and validates animdb configuration.
//
// Configuration lives in a TOML file (default ~/.config/animdb/config.toml,
// falling back to ./animdb.toml). Every directory under [paths] defaults to a
// sub-directory of data_dir, so a minimal file only needs data_dir.
//
// Load applies defaults, decodes the file, expands "~" and relative paths,
// and validates the result. EnsureDirectories creates the pipeline layout
// before a stage runs.
package config
