package speakerid

import _ "embed"

// OpenAPISpec is the HTTP API description served at /api/v1/openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
