// Package deps resolves the external executables cvt2bids invokes and
// reports which of them are available on PATH.
package deps
