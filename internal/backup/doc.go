// Package backup exports and restores a device's data as a single
// encrypted text blob.
//
// The plaintext is the canonical JSON of a Backup, compressed with zstd
// and handed to a Cipher. Decryption and format failures are reported as
// *Error, distinct from the per-event rejections of a merge.
package backup
