// Package packager turns a cached PDF into the artifact delivered to the
// requester. Formats register themselves by key; "pdf" hands out the cached
// file unchanged and "zip" wraps it into a single-entry, optionally
// AES-256 encrypted archive.
package packager
