// Package abuse guards registration against repeat offenders and bursts.
//
// Both checks key on the client address resolved by clientip and read the
// identity store directly; the store is the only source of truth and no
// counters are kept in process. Store failures never block a registration:
// the guard fails open and reports the failure to logs and metrics.
package abuse
