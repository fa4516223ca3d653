// Package storage handles the on-disk blob directory of a library.
package storage

// BlobStore is the interface for encrypted payload blob operations. Blobs are
// opaque byte files named by reference; storage never sees plaintext.
type BlobStore interface {
	// Write atomically stores blob under ref.
	Write(ref string, blob []byte) error
	// Read returns the raw bytes of the blob named ref.
	Read(ref string) ([]byte, error)
	// Remove overwrites the blob named ref in place (best effort) and unlinks it.
	Remove(ref string) error
	// List returns every stored blob reference.
	List() ([]string, error)
}
