// Package inbound receives GitHub hook deliveries.
//
// A delivery is authenticated by the public key embedded in its url and the
// HMAC signature of its body. Deliveries are claimed by their GitHub delivery
// id so redeliveries of a processed event are answered without side effects,
// while failed ones stay retryable.
package inbound
