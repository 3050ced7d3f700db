package main

import (
	"sync"
	"syscall"

	"github.com/relaycore/bwbridge/internal/snp"
)

// shimState is the registry the exported trampolines resolve through. The
// game never passes a context pointer, so there is exactly one adapter per
// process, installed by the host's bootstrap before the game binds.
type shimState struct {
	adapter *snp.Adapter
}

var (
	stateMu  sync.Mutex
	curState shimState
)

// state snapshots the registry under the global mutex. Trampolines operate
// on the snapshot so no C call ever runs with the mutex held.
func state() shimState {
	stateMu.Lock()
	defer stateMu.Unlock()
	return curState
}

// installAdapter registers the process's adapter with the trampolines. The
// bootstrap calls this once its network stack is wired; nil uninstalls.
func installAdapter(a *snp.Adapter) {
	stateMu.Lock()
	defer stateMu.Unlock()
	curState.adapter = a
}

// newEventWaker adapts the receive-event handle the game passes to
// Initialize into a WakeFunc. The handle is duplicated by the caller before
// it reaches us; signalling is one 8-byte write, the event-object idiom on
// this platform.
func newEventWaker(handle uintptr) snp.WakeFunc {
	if handle == 0 {
		return nil
	}
	fd := int(handle)
	var one = [8]byte{1}
	return func() {
		_, _ = syscall.Write(fd, one[:])
	}
}

// setLastErrorNoMessages records the "no messages waiting" condition the
// game checks after a zero return from receive_packet.
func setLastErrorNoMessages() {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	lastErr = errNoMessagesWaiting
}

// errNoMessagesWaiting mirrors the storm error code for an empty receive
// queue.
const errNoMessagesWaiting = 0x8510006e

var (
	lastErrMu sync.Mutex
	lastErr   uint32
)

// LastError exposes the most recent provider error code; the hooking layer
// patches the game's get-last-error path to consult it.
//
//export LastError
func LastError() uint32 {
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	return lastErr
}
