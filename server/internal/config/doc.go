// Package config loads the server configuration from the `server:` section
// of a YAML file.
//
// Config fields:
//   - HTTPPort              port for the REST API, metrics and audit feed (default 8000)
//   - GRPCPort              port for the gRPC health service (default 0, disabled)
//   - Auth.Mode             "apikey" (default) or "none"
//   - Auth.KeyEnv           environment variable holding the expected API key (default FHIRLITE_API_KEY)
//   - Auth.Header           header name (default "x-api-key")
//   - Store.Backend         "file" (default), "memory" or "postgres"
//   - Store.Path            document file (default database_hcd.json)
//   - Store.DSNEnv          environment variable holding the Postgres DSN
//   - Store.SerializeWrites serialize load-modify-save cycles (default false)
//   - Audit.Webhooks        webhook targets, each resolved from an env var
//   - Audit.Feed            enable /ws/audit (default true)
//   - Health.Interval       storage probe interval (default 15s)
//   - Log.Level             debug | info | warn | error (default info)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads the file once writes to it settle. An empty
// file is never applied.
package config
