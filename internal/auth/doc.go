// Package auth verifies the API keys that are exchanged for access tokens.
//
// Configured keys are either plaintext or Argon2id hashes in PHC string
// format ($argon2id$v=19$m=65536,t=3,p=1$<salt>$<hash>). Hashes are
// produced with HashKey, exposed on the command line as
// "knxsync hash-key <key>", so the configuration file never needs to hold
// a usable key.
package auth
