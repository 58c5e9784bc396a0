// Package cryptox holds the symmetric cryptography used for confidential
// records: the process-wide key provider, the AES-256-GCM engine that seals
// note content into a (ciphertext, nonce, tag) triple, and subkey
// derivation for the audit chain.
//
// Nothing in this package logs. Plaintext and key material never leave the
// call that handles them.
package cryptox
