// Package entitled reconciles user billing entitlements between an external
// payment provider and an internal user registry.
//
// Two independent channels can change a user's entitlement: asynchronous,
// at-least-once, possibly out-of-order webhook notifications, and an
// on-demand verification poll that queries provider state directly. Both
// feed the same Reconciler, which applies normalized events under an
// idempotency and ordering discipline built on the UserStore's revision
// compare-and-set. The Linker guarantees exactly one provider customer per
// user even under concurrent requests, and the Verifier repairs drift by
// setting the record to the provider's current authoritative state.
//
// The package holds no global mutable state; providers, stores, loggers,
// and metrics are injected through per-component Config structs.
package entitled
