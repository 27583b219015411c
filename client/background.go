package client

import (
	"errors"
	"sync"

	"github.com/andydunstall/tether/httperr"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/protocol"
	"go.uber.org/zap"
)

var errConnectionClosed = errors.New("connection closed")

// background runs a connection's protocol driver until the connection
// terminates.
//
// The driver is never restarted. Once it exits, its outcome is recorded so
// later calls on the connection fail with the reason.
type background struct {
	driver protocol.Driver

	done chan struct{}
	once sync.Once
	err  error

	metrics *Metrics
	logger  log.Logger
}

func newBackground(driver protocol.Driver, metrics *Metrics, logger log.Logger) *background {
	return &background{
		driver:  driver,
		done:    make(chan struct{}),
		metrics: metrics,
		logger:  logger,
	}
}

func (b *background) Run() {
	b.metrics.ConnectionsActive.Inc()
	defer b.metrics.ConnectionsActive.Dec()

	err := b.driver.Run()
	if err != nil {
		// In-flight requests observe their own errors, so the driver error
		// is only logged.
		b.logger.Debug("connection failed", zap.Error(err))
		b.metrics.BackgroundErrorsTotal.Inc()
	} else {
		b.logger.Debug("connection closed")
	}
	b.finish(err)
}

// Done returns a channel that is closed once the driver exits.
func (b *background) Done() <-chan struct{} {
	return b.done
}

// Err returns the error the driver exited with. Only valid once Done is
// closed.
func (b *background) Err() error {
	select {
	case <-b.done:
		return b.err
	default:
		return nil
	}
}

// Exited returns whether the driver has exited.
func (b *background) Exited() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// ClosedError returns the error returned to calls made after the driver has
// exited.
func (b *background) ClosedError(op string) error {
	cause := b.Err()
	if cause == nil {
		cause = errConnectionClosed
	}
	return &httperr.Error{
		Kind: httperr.KindClosed,
		Op:   op,
		Err:  cause,
	}
}

func (b *background) finish(err error) {
	b.once.Do(func() {
		b.err = err
		close(b.done)
	})
}
