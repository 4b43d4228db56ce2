// Package cli provides the interactive expiryx client.
//
// It wires configuration, the local cache, the wallet and the ledger
// adapter, and runs a REPL on top of the permission services. Typical flow:
// create or unlock the wallet, which starts a session (sync engine, poll
// loop, connectivity watcher, optional dashboard API), then issue
// permission commands until lock or exit.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
