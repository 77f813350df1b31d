package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

// mockDeviceService records control-plane calls and returns scripted errors.
type mockDeviceService struct {
	mu sync.Mutex

	clearReadyCalls int
	applyCalls      []string
	startScanCalls  int
	stopScanCalls   int
	pairCalls       []string

	clearReadyErr error
	applyErr      error
	scanErr       error
	pairErr       error
}

func (m *mockDeviceService) ClearReady(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearReadyCalls++
	return m.clearReadyErr
}

func (m *mockDeviceService) ApplyConfig(_ context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyCalls = append(m.applyCalls, target)
	return m.applyErr
}

func (m *mockDeviceService) StartScan(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startScanCalls++
	return m.scanErr
}

func (m *mockDeviceService) StopScan(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopScanCalls++
	return m.scanErr
}

func (m *mockDeviceService) Pair(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairCalls = append(m.pairCalls, address)
	return m.pairErr
}

type fakeRelauncher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeRelauncher) Relaunch() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *fakeRelauncher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeCuePlayer struct {
	played []string
	err    error
}

func (p *fakeCuePlayer) Play(cue string) error {
	p.played = append(p.played, cue)
	return p.err
}

func (p *fakeCuePlayer) Stop() {}

// runCycle reduces an event, runs every emitted command through runEffect, and
// feeds observation events back through the reducer until the queue drains.
// It mirrors the daemon loop's event-then-command cadence.
func runCycle(t *testing.T, ctx context.Context, s *LobbyState, svc DeviceServiceAPI, player CuePlayer, relauncher Relauncher, ev Event) *LobbyState {
	t.Helper()

	logger := slog.Default()
	queue := []Event{ev}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		res := Reduce(s, next)
		s = res.State
		for _, cmd := range res.Commands {
			runEffect(ctx, svc, player, relauncher, cmd, logger, func(obs Event) {
				queue = append(queue, obs)
			})
		}
	}
	return s
}

func TestEffects_ApplyConfigSuccessTriggersOneRelaunch(t *testing.T) {
	svc := &mockDeviceService{}
	relauncher := &fakeRelauncher{}

	s := runCycle(t, context.Background(), &LobbyState{}, svc, nil, relauncher, ApplyConfig{Target: "retro"})

	if len(svc.applyCalls) != 1 {
		t.Fatalf("expected 1 apply request, got %d", len(svc.applyCalls))
	}
	if svc.applyCalls[0] != "retro" {
		t.Errorf("apply target not forwarded: %q", svc.applyCalls[0])
	}
	if relauncher.count() != 1 {
		t.Errorf("expected exactly 1 relaunch after apply success, got %d", relauncher.count())
	}
	if len(s.Connected) != 0 || len(s.Ready) != 0 {
		t.Error("apply cycle must not touch lobby membership")
	}
}

func TestEffects_ApplyConfigEmptyTargetMeansDefault(t *testing.T) {
	svc := &mockDeviceService{}
	relauncher := &fakeRelauncher{}

	runCycle(t, context.Background(), &LobbyState{}, svc, nil, relauncher, ApplyConfig{})

	if len(svc.applyCalls) != 1 || svc.applyCalls[0] != "" {
		t.Fatalf("expected one apply with empty target, got %v", svc.applyCalls)
	}
	if relauncher.count() != 1 {
		t.Errorf("expected relaunch for default-target apply, got %d", relauncher.count())
	}
}

func TestEffects_ApplyConfigFailureNeverRelaunches(t *testing.T) {
	svc := &mockDeviceService{applyErr: errors.New("emulator not installed")}
	relauncher := &fakeRelauncher{}

	s := runCycle(t, context.Background(), &LobbyState{}, svc, nil, relauncher, ApplyConfig{Target: "retro"})

	if relauncher.count() != 0 {
		t.Errorf("relaunch must not run after apply failure, got %d", relauncher.count())
	}
	if len(s.Connected) != 0 || len(s.Ready) != 0 {
		t.Error("failed apply must leave state untouched")
	}
}

func TestEffects_RelaunchOrderedAfterApplyCompletes(t *testing.T) {
	// The relaunch request must only ever be observed after the apply
	// request has completed on the service side.
	var order []string
	svc := &mockDeviceService{}
	relauncher := &fakeRelauncher{}

	logger := slog.Default()
	ctx := context.Background()

	res := Reduce(&LobbyState{}, ApplyConfig{Target: "dolphin"})
	for _, cmd := range res.Commands {
		runEffect(ctx, svc, nil, relauncher, cmd, logger, func(obs Event) {
			order = append(order, "apply_done")
			inner := Reduce(res.State, obs)
			for _, c2 := range inner.Commands {
				runEffect(ctx, svc, nil, relauncher, c2, logger, func(Event) {})
				order = append(order, "relaunch")
			}
		})
	}

	want := []string{"apply_done", "relaunch"}
	if len(order) != len(want) || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("expected order %v, got %v", want, order)
	}
	if relauncher.count() != 1 {
		t.Errorf("expected 1 relaunch, got %d", relauncher.count())
	}
}

func TestEffects_RelaunchSkippedAfterTeardown(t *testing.T) {
	relauncher := &fakeRelauncher{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runEffect(ctx, nil, nil, relauncher, CmdRelaunch{}, slog.Default(), func(Event) {})

	if relauncher.count() != 0 {
		t.Errorf("relaunch ran after teardown: %d", relauncher.count())
	}
}

func TestEffects_ReassignSendsClearReadyWithoutLocalMutation(t *testing.T) {
	svc := &mockDeviceService{}
	s := &LobbyState{}
	s = Reduce(s, ControllerConnected{Controller: testController("A")}).State
	s = Reduce(s, ControllerReady{ReadyController: testReady("B", 0)}).State

	s = runCycle(t, context.Background(), s, svc, nil, nil, Reassign{})

	if svc.clearReadyCalls != 1 {
		t.Fatalf("expected 1 clear-ready request, got %d", svc.clearReadyCalls)
	}
	// Optimistic clears are forbidden; the ready set empties only when the
	// service confirms via controller_unready events.
	if len(s.Ready) != 1 {
		t.Errorf("ready set mutated locally on reassign: %d entries", len(s.Ready))
	}
	if len(s.Connected) != 1 {
		t.Errorf("connected set mutated on reassign: %d entries", len(s.Connected))
	}
}

func TestEffects_ReassignFailureLeavesStateUntouched(t *testing.T) {
	svc := &mockDeviceService{clearReadyErr: errors.New("service unavailable")}
	s := &LobbyState{}
	s = Reduce(s, ControllerReady{ReadyController: testReady("A", 0)}).State

	s = runCycle(t, context.Background(), s, svc, nil, nil, Reassign{})

	if len(s.Ready) != 1 {
		t.Errorf("failed reassign mutated ready set: %d entries", len(s.Ready))
	}
}

func TestEffects_ScanAndPairForwarded(t *testing.T) {
	svc := &mockDeviceService{}
	ctx := context.Background()
	s := &LobbyState{}

	s = runCycle(t, ctx, s, svc, nil, nil, ScanStart{})
	s = runCycle(t, ctx, s, svc, nil, nil, PairDevice{Address: "AA:BB:CC:DD:EE:FF"})
	runCycle(t, ctx, s, svc, nil, nil, ScanStop{})

	if svc.startScanCalls != 1 || svc.stopScanCalls != 1 {
		t.Errorf("scan calls = %d start / %d stop, want 1/1", svc.startScanCalls, svc.stopScanCalls)
	}
	if len(svc.pairCalls) != 1 || svc.pairCalls[0] != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("pair address not forwarded: %v", svc.pairCalls)
	}
}

func TestEffects_ReadyCuePlayedOncePerInsertion(t *testing.T) {
	player := &fakeCuePlayer{}
	ctx := context.Background()
	s := &LobbyState{}

	rc := testReady("A", 0)
	rc.SndSrc = "/assets/snd/ready.mp3"

	s = runCycle(t, ctx, s, nil, player, nil, ControllerReady{ReadyController: rc})
	// Duplicate delivery: no second cue.
	runCycle(t, ctx, s, nil, player, nil, ControllerReady{ReadyController: rc})

	if len(player.played) != 1 {
		t.Fatalf("expected 1 cue, got %d", len(player.played))
	}
	if player.played[0] != "/assets/snd/ready.mp3" {
		t.Errorf("wrong cue played: %q", player.played[0])
	}
}

func TestEffects_CuePlaybackErrorIsNotFatal(t *testing.T) {
	player := &fakeCuePlayer{err: errors.New("no audio device")}
	ctx := context.Background()

	rc := testReady("A", 0)
	rc.SndSrc = "beep.mp3"

	s := runCycle(t, ctx, &LobbyState{}, nil, player, nil, ControllerReady{ReadyController: rc})

	if len(s.Ready) != 1 {
		t.Errorf("playback failure must not affect state: %d ready", len(s.Ready))
	}
}

func TestEffects_SnapshotReplyNonBlocking(t *testing.T) {
	s := &LobbyState{}
	s = Reduce(s, ControllerConnected{Controller: testController("A")}).State

	reply := make(chan LobbySnapshot, 1)
	res := Reduce(s, SnapshotRequest{Reply: reply})
	for _, cmd := range res.Commands {
		runEffect(context.Background(), nil, nil, nil, cmd, slog.Default(), func(Event) {})
	}

	select {
	case snap := <-reply:
		if len(snap.Connected) != 1 {
			t.Errorf("snapshot missing connected entry: %+v", snap)
		}
	default:
		t.Fatal("no snapshot delivered")
	}

	// A full (unbuffered-equivalent) reply channel must not deadlock.
	full := make(chan LobbySnapshot)
	res = Reduce(res.State, SnapshotRequest{Reply: full})
	for _, cmd := range res.Commands {
		runEffect(context.Background(), nil, nil, nil, cmd, slog.Default(), func(Event) {})
	}
}

func TestEffects_MissingServiceReportsFailure(t *testing.T) {
	var failures []Event
	runEffect(context.Background(), nil, nil, nil, CmdClearReady{}, slog.Default(), func(ev Event) {
		failures = append(failures, ev)
	})

	if len(failures) != 1 {
		t.Fatalf("expected 1 failure observation, got %d", len(failures))
	}
	if _, ok := failures[0].(CommandFailed); !ok {
		t.Errorf("expected CommandFailed, got %T", failures[0])
	}
}
