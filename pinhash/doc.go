// Package pinhash hashes and verifies numeric PINs with Argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// A PIN has very little entropy, so the memory-hard cost parameters are what make an offline
// guess expensive; the attempt counter in package pin is what makes an online guess
// impossible.
package pinhash
