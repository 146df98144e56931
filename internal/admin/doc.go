// Package admin provides the administrative HTTP API of the load balancer.
//
// The API reports backend pool state and lets an operator take a backend
// out of rotation without editing the configuration file.
//
// # Endpoints
//
//	GET  /healthz                  - Liveness probe (no authentication)
//	GET  /backends                 - Pool state of every backend
//	POST /backends/{name}/disable  - Stop selecting the backend
//	POST /backends/{name}/enable   - Return the backend to rotation
//	GET  /config                   - Effective configuration, secrets masked
//	POST /config/reload            - Reload the configuration file
//
// # Authentication
//
// Every endpoint except /healthz requires an HS256 bearer token signed with
// the configured admin secret. Tokens are minted offline with
// "lload token".
//
//	curl -H "Authorization: Bearer $(lload token --config lload.yaml --subject ops)" \
//	  http://127.0.0.1:8389/backends
package admin
