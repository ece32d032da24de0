// Package system assembles a complete taskledger deployment from
// configuration and owns its ordered shutdown.
//
// A System wires the configured store and queue backends to a Manager,
// Dispatcher, Executor and worker pool. Shutdown stops components in
// dependency order: workers drain first, then the queue, the bus, and
// finally the store. Jobs still queued at shutdown stay durable for the
// next run.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	sys, err := system.New(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	sys.Start(ctx)
//	sys.HandleSignals()
//
//	// serve requests against sys.Manager ...
//
//	<-sys.Done()
package system

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fieldserve/taskledger/bus"
	"github.com/fieldserve/taskledger/config"
	"github.com/fieldserve/taskledger/dispatch"
	"github.com/fieldserve/taskledger/executor"
	"github.com/fieldserve/taskledger/ledger"
	"github.com/fieldserve/taskledger/logging"
	"github.com/fieldserve/taskledger/queue"
)

// ErrAlreadyShutdown indicates Shutdown was already initiated.
var ErrAlreadyShutdown = errors.New("shutdown already initiated")

// DefaultShutdownTimeout bounds signal-triggered shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// System is a fully wired taskledger deployment.
type System struct {
	Config     *config.Config
	Store      ledger.Store
	Jobs       queue.JobQueue
	Bus        bus.EventBus
	Manager    *ledger.Manager
	Dispatcher *dispatch.Dispatcher
	Executor   *executor.Executor
	Pool       *executor.WorkerPool

	logger       *logging.Logger
	conn         *nats.Conn
	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// New builds a System from configuration. Backends are connected but
// the worker pool is not yet running; call Start.
func New(ctx context.Context, cfg *config.Config) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New()
	logger.SetLevel(logging.Level(cfg.Log.Level))

	s := &System{
		Config: cfg,
		logger: logger.WithComponent("system"),
		done:   make(chan struct{}),
	}

	if err := s.buildBackends(ctx, cfg); err != nil {
		s.closeBackends(ctx)
		return nil, err
	}

	mgr, err := ledger.NewManager(s.Store, s.Jobs,
		ledger.WithBus(s.Bus),
		ledger.WithLogger(logger))
	if err != nil {
		s.closeBackends(ctx)
		return nil, err
	}
	s.Manager = mgr

	s.Dispatcher = dispatch.NewDispatcher(s.Bus, dispatch.WithLogger(logger))
	s.Executor = executor.NewExecutor(s.Store, s.Jobs, s.Dispatcher,
		executor.WithBus(s.Bus),
		executor.WithLogger(logger),
		executor.WithPolicy(executor.RetryPolicy{
			BaseDelay: cfg.Retry.BaseDelay.Duration,
			CapDelay:  cfg.Retry.CapDelay.Duration,
		}))
	s.Pool = executor.NewWorkerPool(s.Executor, s.Jobs, executor.WorkerConfig{
		Concurrency: cfg.Workers.Concurrency,
	})
	s.Pool.SetLogger(logger)

	return s, nil
}

func (s *System) buildBackends(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		store, err := ledger.NewPostgresStore(ctx, ledger.PostgresConfig{
			DSN:      cfg.Store.DSN,
			MaxConns: cfg.Store.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		s.Store = store
	default:
		s.Store = ledger.NewMemoryStore()
	}

	if cfg.Queue.Backend == config.BackendNATS {
		opts := []nats.Option{nats.Name(cfg.NATS.Name)}
		if cfg.NATS.Token != "" {
			opts = append(opts, nats.Token(cfg.NATS.Token))
		}
		if cfg.NATS.User != "" {
			opts = append(opts, nats.UserInfo(cfg.NATS.User, cfg.NATS.Password))
		}
		conn, err := nats.Connect(cfg.NATS.URL, opts...)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		s.conn = conn

		q, err := queue.NewNATSQueue(queue.NATSQueueConfig{
			Conn:         conn,
			Bucket:       cfg.Queue.Bucket,
			PollInterval: cfg.Queue.PollInterval.Duration,
		})
		if err != nil {
			return fmt.Errorf("nats queue: %w", err)
		}
		s.Jobs = q

		s.Bus = bus.NewNATSBusFromConn(conn, bus.DefaultNATSConfig())
		return nil
	}

	s.Jobs = queue.NewMemoryQueue(queue.MemoryConfig{
		PollInterval: cfg.Queue.PollInterval.Duration,
	})
	s.Bus = bus.NewMemoryBus(bus.DefaultConfig())
	return nil
}

// Start launches the worker pool.
func (s *System) Start(ctx context.Context) {
	s.Pool.Start(ctx)
}

// Shutdown stops the system in dependency order. Calling it again
// returns ErrAlreadyShutdown.
func (s *System) Shutdown(ctx context.Context) error {
	first := false
	s.shutdownOnce.Do(func() {
		first = true
		s.shutdownErr = s.doShutdown(ctx)
		close(s.done)
	})
	if !first {
		select {
		case <-s.done:
			return s.shutdownErr
		default:
			return ErrAlreadyShutdown
		}
	}
	return s.shutdownErr
}

func (s *System) doShutdown(ctx context.Context) error {
	started := time.Now()

	// Workers first so nothing is mid-execution when the backends close.
	stopped := make(chan struct{})
	go func() {
		s.Pool.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.logger.Warn("worker drain timed out", map[string]interface{}{
			"elapsed": time.Since(started).String(),
		})
	}

	err := s.closeBackends(ctx)
	s.logger.Info("shutdown complete", map[string]interface{}{
		"elapsed": time.Since(started).String(),
	})
	return err
}

func (s *System) closeBackends(ctx context.Context) error {
	var errs []error
	if s.Jobs != nil {
		if err := s.Jobs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
	}
	if s.Bus != nil {
		if err := s.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bus: %w", err))
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// HandleSignals triggers Shutdown on SIGTERM or SIGINT.
func (s *System) HandleSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-ch
		ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		_ = s.Shutdown(ctx)
	}()
}

// Done returns a channel closed when shutdown has completed.
func (s *System) Done() <-chan struct{} {
	return s.done
}

// Err returns the shutdown error. Only valid after Done is closed.
func (s *System) Err() error {
	select {
	case <-s.done:
		return s.shutdownErr
	default:
		return nil
	}
}
