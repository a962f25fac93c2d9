// Package flightbag holds module-wide metadata.
package flightbag

// Version is the released version of the flightbag module and CLI.
const Version = "0.3.0"
