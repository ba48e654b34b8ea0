// Package filesystem provides the low-level POSIX filesystem operations that
// the metadata handler needs and that aren't conveniently exposed (or aren't
// cheap enough as exposed) by the standard library: no-follow stat, symbolic
// link resolution with cycle detection, best-effort chmod, a parallel
// recursive directory visitor, and an optional fast-path digest hint read
// from extended attributes.
package filesystem
