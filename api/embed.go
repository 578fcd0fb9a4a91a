// Package api embeds the OpenAPI document served and enforced by the relay.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
