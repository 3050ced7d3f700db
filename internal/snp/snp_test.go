package snp

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitializeNotifiesHandle(t *testing.T) {
	var got *SendHandle
	notified := make(chan struct{}, 1)
	a := New(func(h *SendHandle) {
		got = h
		notified <- struct{}{}
	}, 8, 8)

	require.False(t, a.Bound())
	require.NoError(t, a.Initialize(ClientInfo{Name: "player"}, func() {}))
	<-notified
	require.True(t, a.Bound())
	require.NotNil(t, got)
}

func TestUnbindNotifiesNil(t *testing.T) {
	notifications := make(chan *SendHandle, 2)
	a := New(func(h *SendHandle) { notifications <- h }, 8, 8)

	require.NoError(t, a.Initialize(ClientInfo{Name: "player"}, func() {}))
	<-notifications
	a.Unbind()
	h := <-notifications
	require.Nil(t, h)
	require.False(t, a.Bound())
}

func TestReceivePacketEmptyQueue(t *testing.T) {
	a := New(nil, 8, 8)
	require.NoError(t, a.Initialize(ClientInfo{Name: "p"}, func() {}))

	_, err := a.ReceivePacket()
	require.ErrorIs(t, err, ErrNoMessagesWaiting)
}

func TestReceivePacketNotBound(t *testing.T) {
	a := New(nil, 8, 8)
	_, err := a.ReceivePacket()
	require.ErrorIs(t, err, ErrNotBound)
}

func TestDeliverWakesAndQueues(t *testing.T) {
	var handle *SendHandle
	a := New(func(h *SendHandle) { handle = h }, 8, 8)
	require.NoError(t, a.Initialize(ClientInfo{Name: "p"}, func() {}))

	woken := make(chan struct{}, 1)
	a.wake = func() { woken <- struct{}{} }

	addr := netip.MustParseAddr("10.0.0.1")
	handle.Deliver(ReceivedMessage{From: addr, Data: []byte("hi")})

	<-woken
	msg, err := a.ReceivePacket()
	require.NoError(t, err)
	require.Equal(t, addr, msg.From)
	require.Equal(t, []byte("hi"), msg.Data)
}

func TestSendPacketEnqueuesPerTarget(t *testing.T) {
	a := New(nil, 8, 8)
	targets := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
	}
	sent := a.SendPacket(targets, []byte("payload"))
	require.Equal(t, 2, sent)

	out1 := <-a.Outbound()
	out2 := <-a.Outbound()
	require.ElementsMatch(t, targets, []netip.Addr{out1.To, out2.To})
}

func TestSendPacketDropsWhenFull(t *testing.T) {
	a := New(nil, 8, 1)
	targets := []netip.Addr{
		netip.MustParseAddr("10.0.0.1"),
		netip.MustParseAddr("10.0.0.2"),
	}
	sent := a.SendPacket(targets, []byte("x"))
	require.Equal(t, 1, sent)
}

func TestGetGameInfoOnlyIndexOne(t *testing.T) {
	a := New(nil, 8, 8)
	_, ok := a.GetGameInfo(1)
	require.False(t, ok)

	a.SpoofGame(GameInfo{Index: 1, Raw: []byte("game")})
	info, ok := a.GetGameInfo(1)
	require.True(t, ok)
	require.Equal(t, []byte("game"), info.Raw)

	_, ok = a.GetGameInfo(2)
	require.False(t, ok)
}

func TestSpoofTableDeterministic(t *testing.T) {
	tbl := NewSpoofTable()
	a1 := tbl.Assign(3)
	a2 := tbl.Assign(3)
	require.Equal(t, a1, a2)

	slot, ok := tbl.Lookup(a1)
	require.True(t, ok)
	require.Equal(t, 3, slot)

	a260 := tbl.Assign(260)
	require.Equal(t, netip.AddrFrom4([4]byte{10, 0, 1, 4}), a260)
}
