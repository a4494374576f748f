// Package device registers devices behind registered gateways and carries
// pairing requests to gateways through a single-slot mailbox.
//
// Pairing and registration both require the caller to prove, through an IP
// challenge, that it is on the gateway's network. A new pairing request
// overwrites an unread one; polling the mailbox empties it.
package device
