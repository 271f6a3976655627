package config

import _ "embed"

// Default holds the embedded baseline configuration. Values in a conf.yaml next
// to the binary and SHATO_* environment variables override it.
//
//go:embed conf.yaml
var Default []byte
