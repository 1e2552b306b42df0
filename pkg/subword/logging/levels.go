// Package logging holds the klog verbosity levels used across the module.
package logging

const (
	// DEBUG is the verbosity of per-phase progress messages.
	DEBUG = 4
	// TRACE is the verbosity of per-merge and per-word messages.
	TRACE = 5
)
