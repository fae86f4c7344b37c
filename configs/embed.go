package configs

import _ "embed"

// DefaultModels is the shipped model catalog, written to disk on first start.
//
//go:embed models.yaml
var DefaultModels []byte
