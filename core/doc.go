// Package core contains the GitHub commit hook domain: the hook registry, the
// auth data store, remote hook actions, the health checker and the merge
// commit poller. Provider, transport and storage adapters depend on this
// package; core never depends on them.
package core
