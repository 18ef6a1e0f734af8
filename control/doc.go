// Package control provides the target process's debug introspection
// and hot-reload signaling: a named probe registry (debug.go) and a
// package-level reload-hook list (hotreload.go), consulted by
// cmd/nvmeof-rdma-target on SIGHUP and over its debug endpoint.
// Platform-specific probes are registered per build tag.
package control
