// Package common contains shared constants and sentinel errors used across
// couplesync components.
package common

import "time"

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// DefaultPairingCodeTTL is how long an issued pairing code stays redeemable.
const DefaultPairingCodeTTL = 24 * time.Hour

// PairingCodeLength is the number of characters in a pairing code.
const PairingCodeLength = 6

// PairingCodeAlphabet excludes characters that are easy to confuse when a code
// is read aloud or typed from a screenshot (0/O, 1/I/L).
const PairingCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
