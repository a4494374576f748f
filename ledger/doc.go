// Package ledger provides the payment ledgers access keys are bought on.
//
// Memory is an in-process ledger with ICP-style account identifiers.
// Ethereum reads plain value transfers out of EVM blocks through ethclient.
package ledger
