//go:build !unix

package main

import "os"

// There are no control signals off Unix; the timer and the watcher still run.
func notifyControl(ch chan<- os.Signal) {}

func stopControl(ch chan<- os.Signal) {}

func signalAction(sig os.Signal) controlAction {
	return controlNone
}
