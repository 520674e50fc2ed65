// Package errors provides the error classification used across flexbuf.
//
// # Classes
//
// Every error returned by a flexbuf package falls in one of three classes:
//
//   - Transient: the condition may clear on its own (nothing available in the
//     buffer within a deadline, a lost NATS connection). Callers retry.
//   - Invalid: the caller misused an API (zero length, a reservation that was
//     already committed, a bad configuration). Retrying cannot help.
//   - Fatal: a resource failed underneath (allocation, unmapping). Stop.
//
// # Wrapping
//
// All wrapping follows "component.method: action failed: cause":
//
//	return errors.WrapInvalid(ErrInvalidLength, "Buffer", "AcquireWrite", "validate length")
//
// The result still matches the cause with the standard library errors.Is.
//
// Packages that own transient sentinels register them once so Classify does
// not need string matching:
//
//	func init() { errors.RegisterTransient(ErrUnavailable) }
package errors
