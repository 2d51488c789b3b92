// Package core provides the foundational domain types shared by every genloop
// component. It defines:
//
//   - Content (a conversation turn) and the closed set of Part variants
//   - Signature, the opaque continuation token bound to generated parts
//   - History, the ordered turn sequence plus its rolling send window
//   - ParsedResult, Outcome and PendingSelection, the artifacts exchanged
//     between the orchestration loop and its callers
//   - Error and Kind, the caller-facing failure taxonomy
//   - RoundBudget, the bounded counter for tool dispatch rounds
//
// The package has no knowledge of concrete model providers or tool transports;
// those live behind the model and tool packages.
package core
