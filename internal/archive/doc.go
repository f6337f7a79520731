// Package archive implements the Discourse archive pipelines: category and
// topic discovery, batched post downloads, the crash-safe checkpoint, the
// per-category URL and data caches, and the post-run verification sweep that
// re-downloads whatever went missing. Users, tags, groups and site metadata
// are archived by simpler satellite steps that reuse the same fetch idiom.
package archive
