// Package storage keeps the delivery audit log.
//
// Records describe the outcome of each API request (batch ID, route,
// counts, failed destinations, duration). Message text is never stored.
package storage
