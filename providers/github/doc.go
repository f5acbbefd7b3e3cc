// Package github implements the remote hook client on top of go-github.
//
// Every call classifies its failure into the core remote error taxonomy and
// records the rate limit headers of the last answer so the health checker can
// stop before the quota runs out.
package github
