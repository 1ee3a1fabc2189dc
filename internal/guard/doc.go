// Package guard implements the policy core that gates every simulated or
// executed transaction. It keeps a concurrent-safe store of named, typed
// rules (risk, gas, route, deny), a process-wide emergency stop switch, and
// an evaluator that reports every violation of the enabled rules in a single
// pass. Daily volume and transaction limits are checked against an injected
// usage counter when one is configured.
package guard
