// Package cli provides the interactive couplesync command-line client.
//
// It wires configuration, the local store, the gRPC client, the reconcile
// engine and the realtime bus behind a REPL that keeps working offline.
// Typical flow: log in (online, or offline with cached credentials), pair with
// the partner once, then journal, share memories and send love pings while a
// background watcher follows server reachability.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App, StartOnlineStatusWatcher and runREPL for details.
package cli
