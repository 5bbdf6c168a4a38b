// Package buildinfo exposes version information.
//
// Values can be injected with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/toolhost-go/internal/infra/buildinfo.Version=v1.0.0"
//
// Unset values fall back to the module build info embedded by the Go
// toolchain.
package buildinfo
