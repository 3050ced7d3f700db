package orchestrator

import (
	"context"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	order []RequestType
}

func (r *recordingRunner) Initialize() error {
	r.order = append(r.order, ReqInitialize)
	return nil
}

func (r *recordingRunner) RunWindowLoop(stop <-chan struct{}) error {
	r.order = append(r.order, ReqRunWindowLoop)
	<-stop
	return nil
}

func (r *recordingRunner) StartGame() error {
	r.order = append(r.order, ReqStartGame)
	return nil
}

func (r *recordingRunner) ExitCleanup() error {
	r.order = append(r.order, ReqExitCleanup)
	return nil
}

func TestGameThreadProcessesRequestsInOrder(t *testing.T) {
	runner := &recordingRunner{}
	gt := NewGameThread(runner)
	go gt.Run()
	defer gt.Close()

	ctx := context.Background()
	require.NoError(t, gt.Submit(ctx, ReqInitialize, nil))
	require.NoError(t, gt.Submit(ctx, ReqStartGame, nil))
	require.NoError(t, gt.Submit(ctx, ReqExitCleanup, nil))

	require.Equal(t, []RequestType{ReqInitialize, ReqStartGame, ReqExitCleanup}, runner.order)
}

func TestGameThreadSubmitRespectsContext(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		// No Run loop: Submit's completion wait can only end via the context.
		gt := NewGameThread(&recordingRunner{})

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		err := gt.Submit(ctx, ReqInitialize, nil)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestGameThreadWindowLoopStops(t *testing.T) {
	runner := &recordingRunner{}
	gt := NewGameThread(runner)
	go gt.Run()
	defer gt.Close()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- gt.Submit(context.Background(), ReqRunWindowLoop, stop) }()

	close(stop)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("window loop did not stop")
	}
}
