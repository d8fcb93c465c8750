// Package queue moves approved proposal identifiers from the webhook side
// to the execution worker, either over NATS or in process.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"cacp/internal/bootstrap/logging"
	"cacp/internal/errs"
)

const (
	// DefaultSubject carries approved proposal identifiers as plain bytes.
	DefaultSubject = "cacp.plans.approved"
	// DefaultQueue makes concurrent workers share one subscription.
	DefaultQueue = "cacp-workers"
)

// NATSDispatcher publishes approved proposal identifiers.
type NATSDispatcher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSDispatcher(conn *nats.Conn, subject string) (*NATSDispatcher, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSDispatcher{conn: conn, subject: subject}, nil
}

func (d *NATSDispatcher) Dispatch(ctx context.Context, proposalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.conn.Publish(d.subject, []byte(proposalID)); err != nil {
		return errs.Wrap(err, "publish proposal")
	}
	// Flush so a crash right after the webhook response cannot lose the
	// dispatch silently.
	if err := d.conn.FlushTimeout(5 * time.Second); err != nil {
		return errs.Wrap(err, "flush dispatch")
	}
	return nil
}

// Executor is the worker-side handler for one dispatched proposal.
type Executor interface {
	Execute(ctx context.Context, proposalID string) error
}

// Consumer runs a queue subscription and hands each proposal identifier to
// the executor. Execution errors are logged, not redelivered; the gates
// make a later manual re-dispatch safe.
type Consumer struct {
	conn     *nats.Conn
	subject  string
	queue    string
	executor Executor
}

func NewConsumer(conn *nats.Conn, subject, queue string, executor Executor) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("nats connection is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if queue == "" {
		queue = DefaultQueue
	}
	return &Consumer{conn: conn, subject: subject, queue: queue, executor: executor}, nil
}

// Run blocks until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.conn.QueueSubscribe(c.subject, c.queue, func(msg *nats.Msg) {
		proposalID := string(msg.Data)
		msgCtx := logging.WithAttrs(ctx, slog.String("proposal_id", proposalID))
		if execErr := c.executor.Execute(msgCtx, proposalID); execErr != nil {
			logging.Error(msgCtx, "execute dispatched proposal", slog.Any("err", errs.Loggable(execErr)))
		}
	})
	if err != nil {
		return errs.Wrap(err, "subscribe")
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	logging.Info(ctx, "worker consuming",
		slog.String("subject", c.subject),
		slog.String("queue", c.queue))
	<-ctx.Done()
	return nil
}

// InProcessDispatcher executes approved proposals synchronously, used when
// no broker is configured.
type InProcessDispatcher struct {
	executor Executor
}

func NewInProcessDispatcher(executor Executor) (*InProcessDispatcher, error) {
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	return &InProcessDispatcher{executor: executor}, nil
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, proposalID string) error {
	return d.executor.Execute(ctx, proposalID)
}
