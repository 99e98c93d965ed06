// Package command defines the rhema-store command tree.
//
// Every command opens the store described by the configuration (file,
// RHEMA_ environment, global flags), runs one operation and closes it.
// "serve" keeps the store open and runs background maintenance until
// interrupted.
package command
