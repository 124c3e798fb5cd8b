// Package preflight provides readiness checks for the external tools and
// filesystem paths a conversion run depends on.
//
// These checks run in two contexts:
//   - The convert command calls RunAll before planning and refuses to start
//     when a required check fails.
//   - The CLI "cvt2bids doctor" command prints every result.
//
// Optional tools are reported but never fail a run.
package preflight
