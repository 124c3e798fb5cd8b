// Package ledger records conversion runs and per-directory outcomes in a
// SQLite database under the state directory.
//
// The history serves two purposes: `cvt2bids history` lists past runs, and
// `convert --skip-converted` consults Converted to avoid re-running dcm2bids
// for directories that already produced output in the same BIDS tree.
package ledger
