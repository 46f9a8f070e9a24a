package server

import _ "embed"

// indexHTML is the embedded slider frontend.
//
//go:embed web/index.html
var indexHTML string
