//go:build windows
// +build windows

package internal

const Usage = `wharfinger, the log-shipping agent.

Usage:

  wharfinger <config-path> [pidfile-path]

Loads the configuration file at <config-path>, writes the process id to
<pidfile-path> when one is given, and runs until SIGINT or SIGTERM.
`
