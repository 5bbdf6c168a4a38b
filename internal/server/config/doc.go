// Package config defines the toolhost-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation of addresses, files and timeouts
//   - load.go: layered loading via internal/infra/confloader
package config
