// Package netutil resolves the relay proxy's public address over DNS so the
// challenge engine can recognize requests forwarded by it.
package netutil
