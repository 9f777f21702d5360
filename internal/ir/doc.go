// Package ir provides the value model shared by every other package.
//
// Events and query descriptors are Vectors whose first element is a Keyword
// id. Values are sealed: only Null, String, Int, Bool, Keyword, Vector and
// Map implement Value. ir imports nothing internal, so every other package
// can depend on it without cycles.
//
// Key design constraints:
//   - NO float types; numbers are int64 so encodings stay deterministic
//   - structural identity is defined by MarshalCanonical, never by pointer
//   - Map and Vector helpers copy on write so snapshots stay valid
package ir
