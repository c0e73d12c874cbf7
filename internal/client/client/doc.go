// Package client talks to the couplesync backend over gRPC.
//
// GRPCClient keeps the access and refresh tokens of the logged-in user,
// attaches the access token to every call and refreshes it once when the
// server reports it expired. Status errors are mapped back to the sentinels
// of the common package, so callers use errors.Is; any transport failure is
// common.ErrUnavailable and must never be read as a result.
package client
