package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/glitter/engine"
	"github.com/opd-ai/glitter/preprocess"
	testsim "github.com/opd-ai/glitter/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func frame(seq uint64, width, height int) *preprocess.FrameBuffer {
	return &preprocess.FrameBuffer{
		Pix:      make([]byte, width*height),
		Width:    width,
		Height:   height,
		Seq:      seq,
		Decimate: 1,
	}
}

func next(t *testing.T, b *Boundary) Message {
	t.Helper()
	select {
	case msg, ok := <-b.Events():
		require.True(t, ok, "events channel closed")
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for boundary message")
		return nil
	}
}

func startLoaded(t *testing.T, eng engine.Engine, width, height int, opts ...Option) *Boundary {
	t.Helper()
	b := NewBoundary(eng, opts...)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop(context.Background()) })

	require.NoError(t, b.Send(Init{Codes: []uint32{7}, Width: width, Height: height, TargetFPS: 30}))
	loaded, ok := next(t, b).(Loaded)
	require.True(t, ok)
	require.NoError(t, loaded.Err)
	return b
}

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInit, "init"},
		{KindProcess, "process"},
		{KindResize, "resize"},
		{KindAddCode, "add code"},
		{KindLoaded, "loaded"},
		{KindResult, "result"},
		{KindResizeNeeded, "resize needed"},
		{KindAck, "ack"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestInitCreatesSession(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	b := startLoaded(t, eng, 64, 48)

	s, ok := b.Session()
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.Equal(t, 64, s.Width)
	assert.Equal(t, 48, s.Height)
	assert.Equal(t, []uint32{7}, s.Codes)
	assert.Equal(t, 1, eng.InitCount())

	// Re-init replaces the session.
	require.NoError(t, b.Send(Init{Width: 32, Height: 32}))
	loaded := next(t, b).(Loaded)
	require.NoError(t, loaded.Err)
	assert.NotEqual(t, s.ID, loaded.SessionID)
}

func TestInitErrors(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	eng.SetInitError(errors.New("no wasm"))

	b := NewBoundary(eng)
	require.NoError(t, b.Start())
	defer b.Stop(context.Background())

	require.NoError(t, b.Send(Init{Width: 64, Height: 48}))
	loaded := next(t, b).(Loaded)
	assert.EqualError(t, loaded.Err, "no wasm")
	_, ok := b.Session()
	assert.False(t, ok)

	require.NoError(t, b.Send(Init{Width: 2, Height: 48}))
	loaded = next(t, b).(Loaded)
	assert.Error(t, loaded.Err)
}

func TestProcessReturnsResult(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	tag := engine.Tag{Code: 7, Quad: engine.NewQuad([4]engine.Point{{X: 1, Y: 1}, {X: 5, Y: 1}, {X: 5, Y: 5}, {X: 1, Y: 5}})}
	eng.SetTags([]engine.Tag{tag})

	b := startLoaded(t, eng, 64, 48)
	require.NoError(t, b.Send(Process{Frame: frame(3, 64, 48)}))

	res, ok := next(t, b).(Result)
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(3), res.Seq)
	assert.Equal(t, []engine.Tag{tag}, res.Tags)
	assert.Equal(t, 1.0, res.Decimate)
	assert.False(t, b.Busy())

	s, _ := b.Session()
	assert.Equal(t, uint64(1), s.Jobs)
}

func TestProcessWithoutSession(t *testing.T) {
	b := NewBoundary(testsim.NewSimulatedEngine())
	require.NoError(t, b.Start())
	defer b.Stop(context.Background())

	require.NoError(t, b.Send(Process{Frame: frame(1, 64, 48)}))
	res := next(t, b).(Result)
	assert.ErrorIs(t, res.Err, ErrNoSession)

	require.NoError(t, b.Send(Process{}))
	res = next(t, b).(Result)
	assert.ErrorIs(t, res.Err, ErrInvalidMessage)
}

func TestSecondJobRejectedWhileInFlight(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	started := eng.Block()
	b := startLoaded(t, eng, 64, 48)

	require.NoError(t, b.Send(Process{Frame: frame(1, 64, 48)}))
	<-started
	assert.True(t, b.Busy())
	assert.ErrorIs(t, b.Send(Process{Frame: frame(2, 64, 48)}), ErrJobInFlight)

	eng.Release()
	res := next(t, b).(Result)
	assert.Equal(t, uint64(1), res.Seq)

	// The slot is free again once the result is out.
	require.NoError(t, b.Send(Process{Frame: frame(3, 64, 48)}))
	res = next(t, b).(Result)
	assert.Equal(t, uint64(3), res.Seq)
}

func TestResizeDuringJobAppliesAfterward(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	started := eng.Block()
	b := startLoaded(t, eng, 120, 90)

	require.NoError(t, b.Send(Process{Frame: frame(1, 120, 90)}))
	<-started
	require.NoError(t, b.Send(Resize{Width: 100, Height: 75, Decimate: 1.2}))
	require.NoError(t, b.Send(AddCode{Code: 9}))
	eng.Release()

	res := next(t, b).(Result)
	require.NoError(t, res.Err, "in-flight job completes at its original size")
	assert.Equal(t, 120, res.Width)

	ack := next(t, b).(Ack)
	assert.Equal(t, KindResize, ack.For)
	require.NoError(t, ack.Err)
	ack = next(t, b).(Ack)
	assert.Equal(t, KindAddCode, ack.For)
	require.NoError(t, ack.Err)

	w, h := eng.Dimensions()
	assert.Equal(t, 100, w)
	assert.Equal(t, 75, h)
	assert.Equal(t, 1.2, eng.Decimate())
	assert.Equal(t, []uint32{7, 9}, eng.Codes())

	s, _ := b.Session()
	assert.Equal(t, 1.2, s.Decimate)
	assert.Equal(t, []uint32{7, 9}, s.Codes)

	log := eng.DetectLog()
	require.Len(t, log, 1)
	assert.Equal(t, 120*90, log[0].Bytes)
}

func TestDimensionMismatch(t *testing.T) {
	b := startLoaded(t, testsim.NewSimulatedEngine(), 100, 75)

	require.NoError(t, b.Send(Process{Frame: frame(1, 120, 90)}))
	res := next(t, b).(Result)
	assert.ErrorIs(t, res.Err, ErrDimensionMismatch)

	bad := frame(2, 100, 75)
	bad.Pix = bad.Pix[:10]
	require.NoError(t, b.Send(Process{Frame: bad}))
	res = next(t, b).(Result)
	assert.Error(t, res.Err)
}

func TestEngineErrorReported(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	eng.SetError(errors.New("decode failure"))
	b := startLoaded(t, eng, 64, 48)

	require.NoError(t, b.Send(Process{Frame: frame(1, 64, 48)}))
	res := next(t, b).(Result)
	assert.EqualError(t, res.Err, "decode failure")
	assert.Nil(t, res.Tags)

	s, _ := b.Session()
	assert.Equal(t, uint64(1), s.Failures)
}

func TestEnginePanicRecovered(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	eng.PanicOnCall(1)
	b := startLoaded(t, eng, 64, 48)

	require.NoError(t, b.Send(Process{Frame: frame(1, 64, 48)}))
	res := next(t, b).(Result)
	assert.ErrorIs(t, res.Err, ErrEnginePanic)

	// The boundary keeps working after a panic.
	require.NoError(t, b.Send(Process{Frame: frame(2, 64, 48)}))
	res = next(t, b).(Result)
	assert.NoError(t, res.Err)
}

func TestResizeAndAddCodeValidation(t *testing.T) {
	b := NewBoundary(testsim.NewSimulatedEngine())
	require.NoError(t, b.Start())
	defer b.Stop(context.Background())

	require.NoError(t, b.Send(Resize{Width: 64, Height: 48, Decimate: 1}))
	assert.ErrorIs(t, next(t, b).(Ack).Err, ErrNoSession)
	require.NoError(t, b.Send(AddCode{Code: 5}))
	assert.ErrorIs(t, next(t, b).(Ack).Err, ErrNoSession)

	require.NoError(t, b.Send(Init{Width: 64, Height: 48}))
	require.NoError(t, next(t, b).(Loaded).Err)

	require.NoError(t, b.Send(Resize{Width: 64, Height: 48, Decimate: 0.5}))
	assert.ErrorIs(t, next(t, b).(Ack).Err, ErrInvalidMessage)
	require.NoError(t, b.Send(Resize{Width: 1, Height: 48, Decimate: 1}))
	assert.Error(t, next(t, b).(Ack).Err)
	require.NoError(t, b.Send(AddCode{}))
	assert.ErrorIs(t, next(t, b).(Ack).Err, ErrInvalidCode)
}

func TestUnexpectedMessage(t *testing.T) {
	b := NewBoundary(testsim.NewSimulatedEngine())
	require.NoError(t, b.Start())
	defer b.Stop(context.Background())

	assert.ErrorIs(t, b.Send(nil), ErrInvalidMessage)
	require.NoError(t, b.Send(Loaded{}))
	ack := next(t, b).(Ack)
	assert.Equal(t, KindLoaded, ack.For)
	assert.ErrorIs(t, ack.Err, ErrInvalidMessage)
}

func TestAdvisoryResizeNeeded(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	clock := testsim.NewStepClock(time.Unix(0, 0), 50*time.Millisecond)

	b := NewBoundary(eng, WithAdvisoryThreshold(3))
	b.SetTimeProvider(clock)
	require.NoError(t, b.Start())
	defer b.Stop(context.Background())

	require.NoError(t, b.Send(Init{Codes: []uint32{1}, Width: 64, Height: 48, TargetFPS: 30}))
	require.NoError(t, next(t, b).(Loaded).Err)

	// Each detection measures one 50ms step, over the 33ms budget.
	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Send(Process{Frame: frame(uint64(i), 64, 48)}))
		_, ok := next(t, b).(Result)
		require.True(t, ok)
	}

	require.NoError(t, b.Send(Process{Frame: frame(4, 64, 48)}))
	_, ok := next(t, b).(Result)
	require.True(t, ok)
	advisory, ok := next(t, b).(ResizeNeeded)
	require.True(t, ok, "fourth slow detection triggers the advisory")
	assert.Equal(t, 4, advisory.BadFrames)
	assert.Equal(t, 50*time.Millisecond, advisory.Detection)

	s, _ := b.Session()
	assert.Equal(t, 0, s.BadFrames)
}

func TestAdvisoryResetByFastDetection(t *testing.T) {
	clock := testsim.NewStepClock(time.Unix(0, 0), 50*time.Millisecond)
	b := NewBoundary(testsim.NewSimulatedEngine(), WithAdvisoryThreshold(2))
	b.SetTimeProvider(clock)
	require.NoError(t, b.Start())
	defer b.Stop(context.Background())

	require.NoError(t, b.Send(Init{Width: 64, Height: 48, TargetFPS: 30}))
	require.NoError(t, next(t, b).(Loaded).Err)

	send := func(seq uint64) {
		require.NoError(t, b.Send(Process{Frame: frame(seq, 64, 48)}))
		_, ok := next(t, b).(Result)
		require.True(t, ok)
	}

	send(1)
	send(2)
	clock.SetStep(time.Millisecond)
	send(3)

	s, _ := b.Session()
	assert.Equal(t, 0, s.BadFrames)
}

func TestAdvisoryDisabled(t *testing.T) {
	clock := testsim.NewStepClock(time.Unix(0, 0), 50*time.Millisecond)
	b := NewBoundary(testsim.NewSimulatedEngine(), WithAdvisoryThreshold(0))
	b.SetTimeProvider(clock)
	require.NoError(t, b.Start())
	defer b.Stop(context.Background())

	require.NoError(t, b.Send(Init{Width: 64, Height: 48, TargetFPS: 30}))
	require.NoError(t, next(t, b).(Loaded).Err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Send(Process{Frame: frame(uint64(i), 64, 48)}))
		_, ok := next(t, b).(Result)
		require.True(t, ok)
	}

	select {
	case msg := <-b.Events():
		t.Fatalf("unexpected message %s", msg.Kind())
	case <-time.After(20 * time.Millisecond):
	}
}

func TestStartStop(t *testing.T) {
	b := NewBoundary(testsim.NewSimulatedEngine())

	assert.ErrorIs(t, b.Send(AddCode{Code: 1}), ErrNotRunning)
	assert.NoError(t, b.Stop(context.Background()))

	require.NoError(t, b.Start())
	assert.ErrorIs(t, b.Start(), ErrAlreadyRunning)

	events := b.Events()
	require.NoError(t, b.Stop(context.Background()))

	_, open := <-events
	assert.False(t, open, "events channel closes on stop")
	assert.ErrorIs(t, b.Send(AddCode{Code: 1}), ErrNotRunning)

	// A stopped boundary can be restarted.
	require.NoError(t, b.Start())
	require.NoError(t, b.Stop(context.Background()))
}

func TestStopWithStuckEngine(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	started := eng.Block()

	b := NewBoundary(eng)
	require.NoError(t, b.Start())
	require.NoError(t, b.Send(Init{Width: 64, Height: 48}))
	require.NoError(t, next(t, b).(Loaded).Err)

	require.NoError(t, b.Send(Process{Frame: frame(1, 64, 48)}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Canceling the job context lets the cooperative engine return.
	assert.Eventually(t, func() bool {
		return len(eng.DetectLog()) == 1
	}, waitTimeout, 5*time.Millisecond)
	assert.ErrorIs(t, eng.DetectLog()[0].Err, context.Canceled)
}

func TestSendFromEventReaderDuringAddCodeBurst(t *testing.T) {
	eng := testsim.NewSimulatedEngine()
	started := eng.Block()
	b := startLoaded(t, eng, 64, 48)

	require.NoError(t, b.Send(Process{Frame: frame(1, 64, 48)}))
	<-started

	const codes = 200
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for c := uint32(1); c <= codes; c++ {
			_ = b.Send(AddCode{Code: c})
		}
	}()
	eng.Release()

	// Read events the way the detector does: on a result, hand the worker
	// its next job before reading on.
	done := make(chan struct{})
	var acks, results int
	go func() {
		defer close(done)
		for msg := range b.Events() {
			switch m := msg.(type) {
			case Result:
				results++
				if m.Seq == 1 {
					_ = b.Send(Process{Frame: frame(2, 64, 48)})
				}
			case Ack:
				acks++
			}
			if acks == codes && results == 2 {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("boundary and event reader blocked on each other")
	}
	<-sent
	assert.Equal(t, codes, acks)
	assert.Equal(t, 2, results)
	assert.Len(t, eng.Codes(), codes+1)
}
