package bootstrap

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ErrOperatorGone is returned when the operator signal channel closes.
var ErrOperatorGone = errors.New("operator signal channel closed")

// Operator is the suspend point for interactive bootstraps: Await blocks
// until a human confirms the challenge is solved or ctx ends.
type Operator interface {
	Await(ctx context.Context, prompt string) error
}

// SignalOperator waits on a channel of operator confirmations.
type SignalOperator struct {
	signals <-chan struct{}
	out     io.Writer
	logger  *zap.Logger
}

// NewSignalOperator prints prompts to out (when non-nil) and waits on signals.
func NewSignalOperator(signals <-chan struct{}, out io.Writer, logger *zap.Logger) *SignalOperator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalOperator{signals: signals, out: out, logger: logger}
}

// Await drops confirmations sent before the prompt, then blocks for a new one.
func (o *SignalOperator) Await(ctx context.Context, prompt string) error {
	o.drain()
	o.logger.Info("waiting for operator", zap.String("prompt", prompt))
	if o.out != nil {
		_, _ = fmt.Fprintf(o.out, "%s\nPress Enter to continue...\n", prompt)
	}
	select {
	case _, ok := <-o.signals:
		if !ok {
			return ErrOperatorGone
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *SignalOperator) drain() {
	for {
		select {
		case _, ok := <-o.signals:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// LineSignals turns each line read from r into an operator confirmation.
// The channel closes when r is exhausted or ctx ends.
func LineSignals(ctx context.Context, r io.Reader) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
