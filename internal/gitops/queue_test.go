package gitops

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriteQueueSerializesPerRepository(t *testing.T) {
	runner := newScriptedRunner()
	svc, _, _ := newTestService(t, runner)

	var inFlight int32
	var maxInFlight int32
	var order []int
	var orderMu sync.Mutex

	const commands = 12
	var wg sync.WaitGroup
	for i := 0; i < commands; i++ {
		wg.Add(1)
		index := i
		go func() {
			defer wg.Done()
			commandID, startedAt := svc.beginCommand("test_write")
			err := svc.executeWrite(context.Background(), "/repo/serial", commandID, "test_write", nil, startedAt, time.Second, func(ctx context.Context, diag *commandDiagnosticState) error {
				current := atomic.AddInt32(&inFlight, 1)
				for {
					max := atomic.LoadInt32(&maxInFlight)
					if current <= max || atomic.CompareAndSwapInt32(&maxInFlight, max, current) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				orderMu.Lock()
				order = append(order, index)
				orderMu.Unlock()
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			if err != nil {
				t.Errorf("command %d failed: %v", index, err)
			}
		}()
		// Espaçamento mínimo para que a ordem de chegada seja determinística.
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("expected max 1 command in flight per repo, observed %d", got)
	}
	if len(order) != commands {
		t.Fatalf("expected %d executions, got %d", commands, len(order))
	}
	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Errorf("FIFO violated at position %d: %v", i, order)
			break
		}
	}
}

func TestWriteQueueRunsDistinctRepositoriesInParallel(t *testing.T) {
	runner := newScriptedRunner()
	svc, _, _ := newTestService(t, runner)

	release := make(chan struct{})
	firstRunning := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		commandID, startedAt := svc.beginCommand("blocking_write")
		_ = svc.executeWrite(context.Background(), "/repo/alpha", commandID, "blocking_write", nil, startedAt, 5*time.Second, func(ctx context.Context, diag *commandDiagnosticState) error {
			close(firstRunning)
			<-release
			return nil
		})
	}()

	<-firstRunning

	secondDone := make(chan struct{})
	go func() {
		defer wg.Done()
		commandID, startedAt := svc.beginCommand("fast_write")
		_ = svc.executeWrite(context.Background(), "/repo/beta", commandID, "fast_write", nil, startedAt, 5*time.Second, func(ctx context.Context, diag *commandDiagnosticState) error {
			return nil
		})
		close(secondDone)
	}()

	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Error("command on a different repository was blocked by an unrelated queue")
	}

	close(release)
	wg.Wait()
}

func TestWriteQueueEvictsDrainedQueues(t *testing.T) {
	runner := newScriptedRunner()
	svc, _, _ := newTestService(t, runner)

	for i := 0; i < 3; i++ {
		commandID, startedAt := svc.beginCommand("noop_write")
		err := svc.executeWrite(context.Background(), fmt.Sprintf("/repo/evict-%d", i), commandID, "noop_write", nil, startedAt, time.Second, func(ctx context.Context, diag *commandDiagnosticState) error {
			return nil
		})
		if err != nil {
			t.Fatalf("command %d failed: %v", i, err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.QueueDepth() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected drained queues to be evicted, depth=%d", svc.QueueDepth())
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

func TestWriteQueueSameKeyForCaseVariantsIsStable(t *testing.T) {
	keyA := normalizeQueueKey("/Repo/Path")
	keyB := normalizeQueueKey("/Repo/Path/")
	if keyA != keyB {
		t.Errorf("trailing separator must not change the key: %q vs %q", keyA, keyB)
	}
	if normalizeQueueKey("   ") != "" {
		t.Error("blank path must produce empty key")
	}
}

func TestWriteQueuePropagatesCommandError(t *testing.T) {
	runner := newScriptedRunner()
	svc, _, _ := newTestService(t, runner)

	wantErr := NewBindingError(CodeCommandFailed, "Falha simulada.", "")
	commandID, startedAt := svc.beginCommand("failing_write")
	err := svc.executeWrite(context.Background(), "/repo/errors", commandID, "failing_write", nil, startedAt, time.Second, func(ctx context.Context, diag *commandDiagnosticState) error {
		return wantErr
	})
	expectBindingCode(t, err, CodeCommandFailed)
}

func TestWriteQueueTimeoutCancelsContext(t *testing.T) {
	runner := newScriptedRunner()
	svc, _, _ := newTestService(t, runner)

	commandID, startedAt := svc.beginCommand("slow_write")
	err := svc.executeWrite(context.Background(), "/repo/slow", commandID, "slow_write", nil, startedAt, 20*time.Millisecond, func(ctx context.Context, diag *commandDiagnosticState) error {
		select {
		case <-ctx.Done():
			return queueErrorFromContext(ctx.Err(), "Comando interrompido por timeout.")
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	expectBindingCode(t, err, CodeTimeout)
}

func TestWriteQueueCallerCancellationUnblocksCommand(t *testing.T) {
	runner := newScriptedRunner()
	svc, _, _ := newTestService(t, runner)

	callerCtx, cancelCaller := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancelCaller()
	}()

	commandID, startedAt := svc.beginCommand("canceled_write")
	err := svc.executeWrite(callerCtx, "/repo/cancel", commandID, "canceled_write", nil, startedAt, 5*time.Second, func(ctx context.Context, diag *commandDiagnosticState) error {
		close(started)
		<-ctx.Done()
		return queueErrorFromContext(ctx.Err(), "Comando interrompido pelo chamador.")
	})
	expectBindingCode(t, err, CodeCanceled)
}

func TestCloseRejectsNewCommandsAndStopsWorkers(t *testing.T) {
	runner := newScriptedRunner()
	recorder := &eventRecorder{}
	sleeper := &recordingSleeper{}
	svc := newServiceWithDeps(recorder.emit, runner.run, sleeper.sleep)

	commandID, startedAt := svc.beginCommand("warmup_write")
	if err := svc.executeWrite(context.Background(), "/repo/close", commandID, "warmup_write", nil, startedAt, time.Second, func(ctx context.Context, diag *commandDiagnosticState) error {
		return nil
	}); err != nil {
		t.Fatalf("warmup command failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	commandID, startedAt = svc.beginCommand("late_write")
	err := svc.executeWrite(context.Background(), "/repo/close", commandID, "late_write", nil, startedAt, time.Second, func(ctx context.Context, diag *commandDiagnosticState) error {
		return nil
	})
	expectBindingCode(t, err, CodeServiceUnavailable)

	if err := svc.Close(context.Background()); err != nil {
		t.Errorf("second close must be a no-op, got %v", err)
	}
}

func TestRemainingTimeoutRespectsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if got := remainingTimeout(ctx, time.Second); got > 50*time.Millisecond {
		t.Errorf("remaining timeout must not exceed deadline, got %v", got)
	}
	if got := remainingTimeout(context.Background(), time.Second); got != time.Second {
		t.Errorf("context without deadline must use fallback, got %v", got)
	}
}
