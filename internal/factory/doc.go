// Package factory contains the root orchestrator for agent and strategy
// provisioning. It enforces per-owner deployment quotas, deterministic
// contract addressing, multi-party upgrade approval, emergency-pause
// semantics, and role-based access control, and aggregates statistics
// across the wallet, registry, strategy, and fee components.
package factory
