// Package generator runs the external mirror-definition generator
// (bst-to-lorry) for one configured source at a time.
//
// Sources without an upstream URL are generated in the mirror directory that
// matches their kind. Sources with a URL are cloned first; every configured
// branch is checked out, its elements are verified with bst, and the
// generator runs inside the clone. Any failure is returned as a
// failure.ErrGeneration and the caller stops processing further sources.
package generator
