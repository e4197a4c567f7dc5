// Package vm implements the stencil template virtual machine.
//
// This package contains:
//   - the dynamically typed value model and its operations
//   - the built-in function and method catalog
//   - the register-based instruction set and jump resolution
//   - the line-oriented binary program format
//   - the resumable renderer that produces output chunk by chunk
package vm
