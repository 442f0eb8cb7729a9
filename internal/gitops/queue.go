package gitops

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const writeQueueBufferSize = 64

type queuedCommand struct {
	requestCtx context.Context
	commandID  string
	action     string
	timeout    time.Duration
	run        func(context.Context) error
	result     chan error
	diag       *commandDiagnosticState
}

// repoQueue é a cadeia FIFO de comandos write de um repositório. pending é
// mutado apenas sob Service.queueMu; quando zera, a chave é removida do
// registro e o worker encerra — sessões longas com muitos repositórios não
// acumulam filas mortas.
type repoQueue struct {
	key     string
	items   chan queuedCommand
	pending int
}

// normalizeQueueKey produz a chave canônica de fila por repositório,
// case-folded em filesystems case-insensitive.
func normalizeQueueKey(repoPath string) string {
	normalized := filepath.Clean(strings.TrimSpace(repoPath))
	if normalized == "" || normalized == "." {
		return ""
	}
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return strings.ToLower(normalized)
	}
	return normalized
}

// executeWrite enfileira uma operação mutante e aguarda o resultado.
// Garantia: para uma mesma chave de repositório nunca há dois writes em
// paralelo vindos deste processo; chaves distintas correm em paralelo.
func (s *Service) executeWrite(requestCtx context.Context, repoRoot string, commandID string, action string, args []string, startedAt time.Time, timeout time.Duration, run func(context.Context, *commandDiagnosticState) error) error {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	diag := newCommandDiagnosticState(commandID, repoRoot, action, args, startedAt)
	if run == nil {
		err := NewBindingError(
			CodeUnknown,
			"Comando write inválido.",
			"A execução interna não foi fornecida.",
		)
		s.emitCommandDiagnostic(diag, commandStatusFailed, err)
		return err
	}

	command := queuedCommand{
		requestCtx: requestCtx,
		commandID:  commandID,
		action:     action,
		timeout:    timeout,
		run: func(ctx context.Context) error {
			return run(ctx, diag)
		},
		result: make(chan error, 1),
		diag:   diag,
	}

	if err := s.enqueueWrite(repoRoot, command); err != nil {
		s.emitCommandDiagnostic(diag, commandStatusFailed, err)
		return err
	}

	s.emitCommandDiagnostic(diag, commandStatusSucceeded, nil)
	return nil
}

func (s *Service) enqueueWrite(repoRoot string, command queuedCommand) error {
	queue, err := s.acquireRepoQueue(repoRoot)
	if err != nil {
		return err
	}

	if command.requestCtx == nil {
		command.requestCtx = context.Background()
	}
	if command.result == nil {
		command.result = make(chan error, 1)
	}

	select {
	case queue.items <- command:
		s.emitCommandDiagnostic(command.diag, commandStatusQueued, nil)
	case <-command.requestCtx.Done():
		s.releaseQueueSlot(queue)
		if mapped := queueErrorFromContext(command.requestCtx.Err(), "Comando cancelado antes de entrar na fila."); mapped != nil {
			return mapped
		}
		return command.requestCtx.Err()
	case <-s.shutdownCtx.Done():
		s.releaseQueueSlot(queue)
		return serviceClosedError()
	}

	select {
	case err := <-command.result:
		return err
	case <-command.requestCtx.Done():
		if mapped := queueErrorFromContext(command.requestCtx.Err(), "Comando cancelado enquanto aguardava execução."); mapped != nil {
			return mapped
		}
		return command.requestCtx.Err()
	case <-s.shutdownCtx.Done():
		return serviceClosedError()
	}
}

// acquireRepoQueue reserva um slot na fila do repositório, criando fila e
// worker quando a chave ainda não existe no registro.
func (s *Service) acquireRepoQueue(repoRoot string) (*repoQueue, error) {
	key := normalizeQueueKey(repoRoot)
	if key == "" {
		return nil, NewBindingError(
			CodeRepoNotResolved,
			"Repositório não resolvido para comando write.",
			"Informe um caminho de repositório válido.",
		)
	}
	if s.closed.Load() {
		return nil, serviceClosedError()
	}

	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if s.closed.Load() {
		return nil, serviceClosedError()
	}

	queue, ok := s.queues[key]
	if !ok {
		queue = &repoQueue{
			key:   key,
			items: make(chan queuedCommand, writeQueueBufferSize),
		}
		s.queues[key] = queue

		s.workerWG.Add(1)
		go s.runRepoQueueWorker(queue)
	}

	queue.pending++
	return queue, nil
}

// releaseQueueSlot devolve um slot reservado; quando a cadeia drena (zero
// pendentes), a chave sai do registro e o worker recebe o sinal de parada.
func (s *Service) releaseQueueSlot(queue *repoQueue) bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	queue.pending--
	if queue.pending > 0 {
		return false
	}

	if current, ok := s.queues[queue.key]; ok && current == queue {
		delete(s.queues, queue.key)
	}
	return true
}

func (s *Service) runRepoQueueWorker(queue *repoQueue) {
	defer s.workerWG.Done()

	for {
		select {
		case <-s.shutdownCtx.Done():
			return
		case command := <-queue.items:
			s.emitCommandDiagnostic(command.diag, commandStatusStarted, nil)
			commandCtx, cancel := buildQueueCommandContext(s.shutdownCtx, command.requestCtx, command.timeout)
			runErr := command.run(commandCtx)
			if runErr == nil {
				if mapped := queueErrorFromContext(commandCtx.Err(), "Comando interrompido por cancelamento."); mapped != nil {
					runErr = mapped
				}
			}
			cancel()

			select {
			case command.result <- runErr:
			default:
			}

			if drained := s.releaseQueueSlot(queue); drained {
				return
			}
		}
	}
}

func buildQueueCommandContext(base context.Context, requestCtx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if base == nil {
		base = context.Background()
	}

	ctx := base
	cancelers := make([]func(), 0, 2)

	if requestCtx != nil {
		withRequestCancel, requestCancel := context.WithCancel(ctx)
		stop := context.AfterFunc(requestCtx, requestCancel)
		cancelers = append(cancelers, func() {
			stop()
			requestCancel()
		})
		ctx = withRequestCancel
	}

	if timeout > 0 {
		withTimeout, timeoutCancel := context.WithTimeout(ctx, timeout)
		cancelers = append(cancelers, timeoutCancel)
		ctx = withTimeout
	}

	if len(cancelers) == 0 {
		return ctx, func() {}
	}

	return ctx, func() {
		for i := len(cancelers) - 1; i >= 0; i-- {
			cancelers[i]()
		}
	}
}

func remainingTimeout(ctx context.Context, fallback time.Duration) time.Duration {
	if fallback <= 0 {
		fallback = defaultWriteTimeout
	}
	if ctx == nil {
		return fallback
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		return fallback
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		return time.Millisecond
	}
	if remaining < fallback {
		return remaining
	}
	return fallback
}

func queueErrorFromContext(err error, details string) error {
	if err == nil {
		return nil
	}

	if bindingErr := AsBindingError(err); bindingErr != nil {
		if bindingErr.Code == CodeTimeout || bindingErr.Code == CodeCanceled {
			return bindingErr
		}
		return nil
	}

	trimmedDetails := strings.TrimSpace(details)
	if errors.Is(err, context.DeadlineExceeded) {
		return NewBindingError(
			CodeTimeout,
			"Comando Git excedeu o tempo limite.",
			trimmedDetails,
		)
	}
	if errors.Is(err, context.Canceled) {
		return NewBindingError(
			CodeCanceled,
			"Comando Git cancelado.",
			trimmedDetails,
		)
	}
	return nil
}

func serviceClosedError() error {
	return NewBindingError(
		CodeServiceUnavailable,
		"Serviço Git em encerramento.",
		"A fila de comandos write foi cancelada durante o shutdown.",
	)
}

// QueueDepth expõe o total de filas vivas (usado em testes e diagnóstico).
func (s *Service) QueueDepth() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queues)
}

// Close encerra os workers de fila aguardando o ctx.
func (s *Service) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	if s.shutdownCancel != nil {
		s.shutdownCancel()
	}

	workersDone := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
		return nil
	case <-ctx.Done():
		if mapped := queueErrorFromContext(ctx.Err(), "Timeout aguardando encerramento da fila de comandos."); mapped != nil {
			return mapped
		}
		return ctx.Err()
	}
}
