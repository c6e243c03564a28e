//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
)

func notifyControl(ch chan<- os.Signal) {
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGHUP)
}

func stopControl(ch chan<- os.Signal) {
	signal.Stop(ch)
}

func signalAction(sig os.Signal) controlAction {
	switch sig {
	case syscall.SIGUSR1:
		return controlSync
	case syscall.SIGHUP:
		return controlReload
	default:
		return controlNone
	}
}
