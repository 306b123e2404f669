// Package configs embeds the configuration template written by
// `amanrecall config init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults (config.NewConfig)
//  2. User config (~/.config/amanrecall/config.yaml)
//  3. Project config (.amanrecall.yaml)
//  4. .env in the working directory
//  5. Environment variables (AMANRECALL_*)
package configs

import _ "embed"

// UserConfigTemplate is the commented user configuration template.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
