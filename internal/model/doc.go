// Package model defines the payload types shared by the feed and the REST
// backend.
//
// Conventions:
//   - Prices: integer minor units (cents)
//   - Quantities: integer contracts
//   - Timestamps: time.Time on the wire (RFC 3339), int64 µs in the journal
//   - IDs: uuid.UUID for orders, strategies and trades; string for symbols
package model
