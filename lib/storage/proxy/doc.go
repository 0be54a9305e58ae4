// Package proxy implements the pass-through storage manager: every
// operation forwards unchanged to the next manager in the chain, with a
// per-operation metrics counter and flag-gated logging on the way
// through.
//
// The proxy is the composition base for the layered managers: object,
// aged and burned caches embed a Proxy and override only the operations
// they intercept, keeping the full contract available without
// re-implementing it.
//
// Telemetry: each proxy carries a name, and every forwarded operation
// bumps the counter mnemo_storage_ops_total{layer="<name>",op="<op>"}
// in the process-wide metrics set.
package proxy
