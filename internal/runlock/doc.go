// Package runlock serializes conversion runs that share a participants
// file, so two runs never allocate the same pseudonymous id.
package runlock
