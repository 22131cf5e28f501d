// Package modeladapter defines the contract shared by the per-provider request
// builders and the HTTP plumbing they have in common.
//
// It contains:
//   - [Completer] interface: one attempt of a query against one provider
//   - [ModelAdapter] struct with auth, custom headers, a per-attempt timeout, and
//     a [ModelAdapter.PostJSON] helper that classifies transport, status, and
//     decoding failures into the failure taxonomy
//
// This package contains no provider-specific code; concrete builders live in
// separate packages under pkg/providers that import modeladapter.
package modeladapter
