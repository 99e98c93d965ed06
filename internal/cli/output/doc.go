// Package output renders command results for rhema-store.
//
// Results are printed as an aligned table (default), JSON or YAML.
// Status lines and the spinner go to stderr and are colored only when
// stderr is a terminal and NO_COLOR is unset.
package output
