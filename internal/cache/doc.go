// Package cache keeps the on-disk comic cache and its in-memory index.
//
// The cache directory holds one regular file per comic, named
// "(<id>) <title>.<ext>", plus transient per-comic working directories left
// by the renderer. At startup the directory is rehydrated: working
// directories are purged and files are indexed in creation order. The index
// is bounded; when it grows past its capacity the oldest entry is dropped and
// its file removed from disk.
package cache
