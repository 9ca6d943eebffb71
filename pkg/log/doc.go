/*
Package log provides structured logging for flowmesh using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for the common logging patterns used across the runtime: per-block,
per-actor, and per-flow diagnostics. All logs include timestamps and support
filtering by severity level.

Runtime errors raised inside work() (logged by pkg/threadpool) and
deactivate() during a commit rollback (logged by pkg/topology) are routed
through this package; activate() errors are returned from Topology.Commit
instead. Severities map onto the spec's Information/Warning/Error/Critical
taxonomy:

	Information -> Debug
	Warning     -> Warn
	Error       -> Error
	Critical    -> Error (with a "critical" field set)
*/
package log
