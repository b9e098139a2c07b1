// Command bemflow is the CLI for the bemflow daemon. It runs the daemon,
// submits and watches building-energy-simulation jobs over the daemon's Unix
// socket, and validates daemon and job configuration files.
package main
