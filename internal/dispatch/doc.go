// Package dispatch runs conversion jobs either one after another in plan
// order or on a bounded pool with one worker per participant.
package dispatch
