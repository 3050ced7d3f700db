// Command snpshim builds as a c-shared library exporting the SNP function
// table the game binds against. The game calls these entry points without a
// context pointer, so every trampoline resolves per-instance state through
// the package-level registry guarded by a global mutex.
//
// Only the entry points with real behavior are implemented in Go; the rest
// of the 27-slot table is filled with a stub that returns success, matching
// what the game expects from a provider that does not support the legacy
// enum/broadcast/league surface.
package main

/*
#include <stdlib.h>
#include <string.h>
#include "snp_table.h"
*/
import "C"

import (
	"net/netip"
	"unsafe"

	"github.com/relaycore/bwbridge/internal/snp"
)

//export SnpFunctionTable
func SnpFunctionTable() unsafe.Pointer {
	return unsafe.Pointer(C.snp_function_table())
}

//export SnpStub
func SnpStub() C.int {
	return 1
}

//export SnpInitialize
func SnpInitialize(clientInfo, userData, battleInfo, moduleData, receiveEvent unsafe.Pointer) C.int {
	st := state()
	if st.adapter == nil {
		return 0
	}
	info := snp.ClientInfo{Raw: clientInfoBytes(clientInfo)}
	wake := newEventWaker(uintptr(receiveEvent))
	if err := st.adapter.Initialize(info, wake); err != nil {
		return 0
	}
	return 1
}

//export SnpUnbind
func SnpUnbind() C.int {
	st := state()
	if st.adapter != nil {
		st.adapter.Unbind()
	}
	return 1
}

//export SnpFreePacket
func SnpFreePacket(from *C.snp_sockaddr, data *C.uchar, length C.uint) C.int {
	// The sockaddr is the first field of the snp_packet allocation that
	// ReceivePacket handed out, so freeing it frees the packet.
	C.free(unsafe.Pointer(from))
	return 1
}

//export SnpFreeServerPacket
func SnpFreeServerPacket(from *C.snp_sockaddr, data unsafe.Pointer, length C.uint) C.int {
	return 1
}

//export SnpGetGameInfo
func SnpGetGameInfo(index C.uint, gameName, password *C.char, outInfo unsafe.Pointer) C.int {
	st := state()
	if st.adapter == nil || outInfo == nil {
		return 0
	}
	info, ok := st.adapter.GetGameInfo(uint32(index))
	if !ok || len(info.Raw) == 0 {
		return 0
	}
	C.memcpy(outInfo, unsafe.Pointer(&info.Raw[0]), C.size_t(len(info.Raw)))
	return 1
}

//export SnpReceivePacket
func SnpReceivePacket(from **C.snp_sockaddr, data **C.uchar, length *C.uint) C.int {
	if from == nil || data == nil || length == nil {
		return 0
	}
	st := state()
	if st.adapter == nil {
		return 0
	}
	msg, err := st.adapter.ReceivePacket()
	if err != nil {
		setLastErrorNoMessages()
		return 0
	}

	pkt := (*C.snp_packet)(C.malloc(C.size_t(C.sizeof_snp_packet + len(msg.Data))))
	C.memset(unsafe.Pointer(pkt), 0, C.sizeof_snp_packet)
	pkt.from.family = C.ushort(afInet)
	a4 := msg.From.As4()
	C.memcpy(unsafe.Pointer(&pkt.from.addr[0]), unsafe.Pointer(&a4[0]), 4)
	pkt.length = C.uint(len(msg.Data))
	if len(msg.Data) > 0 {
		C.memcpy(unsafe.Pointer(&pkt.data[0]), unsafe.Pointer(&msg.Data[0]), C.size_t(len(msg.Data)))
	}

	*from = &pkt.from
	*data = &pkt.data[0]
	*length = pkt.length
	return 1
}

//export SnpSendPacket
func SnpSendPacket(numTargets C.uint, targets **C.snp_sockaddr, data *C.uchar, length C.uint) C.int {
	st := state()
	if st.adapter == nil || targets == nil {
		return 0
	}
	addrs := make([]netip.Addr, 0, int(numTargets))
	targetSlice := unsafe.Slice(targets, int(numTargets))
	for _, t := range targetSlice {
		if t == nil {
			continue
		}
		var a4 [4]byte
		copy(a4[:], C.GoBytes(unsafe.Pointer(&t.addr[0]), 4))
		addrs = append(addrs, netip.AddrFrom4(a4))
	}
	body := C.GoBytes(unsafe.Pointer(data), C.int(length))
	st.adapter.SendPacket(addrs, body)
	return 1
}

//export SnpEnumDevices
func SnpEnumDevices(deviceData *unsafe.Pointer) C.int {
	if deviceData != nil {
		*deviceData = nil
	}
	return 1
}

//export SnpReceiveGames
func SnpReceiveGames(games *unsafe.Pointer) C.int {
	if games != nil {
		*games = nil
	}
	return 1
}

//export SnpSendCommand
func SnpSendCommand(unk1, playerName *C.char, unk2, unk3 unsafe.Pointer, command *C.char) C.int {
	return 1
}

//export SnpBroadcastGame
func SnpBroadcastGame(name, password, gameData *C.char, gameState C.int, elapsedTime C.uint, gameType, unk1, unk2 C.int, playerData unsafe.Pointer, playerCount C.uint) C.int {
	return 1
}

//export SnpStopBroadcastingGame
func SnpStopBroadcastingGame() C.int {
	return 1
}

//export SnpFreeDeviceData
func SnpFreeDeviceData(deviceData unsafe.Pointer) C.int {
	return 1
}

//export SnpFindGames
func SnpFindGames(unk1 C.int, gamesList unsafe.Pointer) C.int {
	return 1
}

//export SnpReportGameResult
func SnpReportGameResult(unk1, playerSlotsLen C.int, playerName *C.char, unk2 *C.int, mapName, results *C.char) C.int {
	return 1
}

//export SnpGetLeagueId
func SnpGetLeagueId(leagueID *C.int) C.int {
	if leagueID != nil {
		*leagueID = 0
	}
	return 1
}

//export SnpDoLeagueLogout
func SnpDoLeagueLogout(playerName *C.char) C.int {
	return 1
}

//export SnpGetReplyTarget
func SnpGetReplyTarget(dest *C.char, destLen C.uint) C.int {
	return 1
}

const afInet = 2

func clientInfoBytes(clientInfo unsafe.Pointer) []byte {
	if clientInfo == nil {
		return nil
	}
	// The client-info struct's documented size; copied verbatim, never
	// interpreted here.
	return C.GoBytes(clientInfo, C.int(clientInfoSize))
}

const clientInfoSize = 60

// main is required for a c-shared build but never runs as a program entry;
// the host process drives everything through the exported table.
func main() {}
