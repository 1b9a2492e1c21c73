// Package openapi embeds the gateway's north-side request schema so the
// validation middleware never depends on a file path being present at
// runtime.
package openapi

import _ "embed"

//go:embed spec.yaml
var Spec []byte
