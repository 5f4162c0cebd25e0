package quiz

import _ "embed"

// Default bundle generated by the 2025 season analytics run.
//
//go:embed bundle.json
var defaultBundle []byte
