// Package tiered provides a Hot/Cold tiered notification log that puts a fast
// ephemeral log (Hot, e.g. Redis) in front of the durable document store log
// (Cold).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/gofulfill/pkg/notify"
)

// Config configures the tiered log behavior
type Config struct {
	// Hot is the L1 log (e.g., Redis) consulted first on lookups
	Hot notify.Log

	// Cold is the L2 log (the document store) and the source of truth
	Cold notify.Log

	// AsyncHotFill populates Hot after a Cold hit from a background worker
	// instead of inline.
	AsyncHotFill bool

	// FillBufferSize is the size of the buffered channel for async fills.
	// Default: 1000
	FillBufferSize int

	// AsyncErrorHandler is called when a Hot write fails.
	AsyncErrorHandler func(error)
}

// Storage implements notify.Log over two tiers:
// - Read-Through: Lookup (Hot → Cold → populate Hot)
// - Write-Through: Record (Cold → Hot)
//
// A disabled Cold tier degrades to Hot only.
type Storage struct {
	hot  notify.Log
	cold notify.Log
	conf Config

	fillQueue chan func() error
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ notify.Log = (*Storage)(nil)

// New creates a new tiered log.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered log: both hot and cold logs are required")
	}

	if config.FillBufferSize <= 0 {
		config.FillBufferSize = 1000
	}

	s := &Storage{
		hot:       config.Hot,
		cold:      config.Cold,
		conf:      config,
		fillQueue: make(chan func() error, config.FillBufferSize),
		shutdown:  make(chan struct{}),
	}

	if config.AsyncHotFill {
		s.startWorker()
	}

	return s, nil
}

// Close stops the fill worker after draining queued fills.
func (s *Storage) Close() error {
	if s.conf.AsyncHotFill {
		s.closeOnce.Do(func() {
			close(s.shutdown)
			s.wg.Wait()
		})
	}
	return nil
}

func (s *Storage) startWorker() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case job := <-s.fillQueue:
				s.report(job())
			case <-s.shutdown:
				for {
					select {
					case job := <-s.fillQueue:
						s.report(job())
					default:
						return
					}
				}
			}
		}
	}()
}

func (s *Storage) report(err error) {
	if err != nil && s.conf.AsyncErrorHandler != nil {
		s.conf.AsyncErrorHandler(fmt.Errorf("tiered hot write failed: %w", err))
	}
}

// Enabled reports whether either tier is durable enough to dedupe.
func (s *Storage) Enabled() bool {
	return s.hot.Enabled() || s.cold.Enabled()
}

// forgetter is implemented by hot logs that can drop an entry.
type forgetter interface {
	Forget(ctx context.Context, key string) error
}

// Lookup implements notify.Log with read-through strategy. Only a sent entry
// is final, so a Hot hit with any other status is checked against Cold.
func (s *Storage) Lookup(ctx context.Context, key string) (*notify.Entry, error) {
	if !s.cold.Enabled() {
		if !s.hot.Enabled() {
			return nil, nil
		}
		return s.hot.Lookup(ctx, key)
	}

	// 1. Try Hot
	if s.hot.Enabled() {
		if e, err := s.hot.Lookup(ctx, key); err == nil && e != nil && e.Status == notify.StatusSent {
			return e, nil
		}
	}

	// 2. Try Cold (Source of Truth)
	e, err := s.cold.Lookup(ctx, key)
	if err != nil || e == nil {
		return e, err
	}

	// 3. Populate Hot
	if s.hot.Enabled() && e.Status == notify.StatusSent {
		entry := *e
		fill := func() error { return s.hot.Record(context.WithoutCancel(ctx), key, entry) }
		if s.conf.AsyncHotFill {
			select {
			case s.fillQueue <- fill:
			default:
				// Queue full: skip the fill, the next lookup reads Cold again.
			}
		} else {
			s.report(fill())
		}
	}
	return e, nil
}

// Record implements notify.Log with write-through strategy. Cold must
// succeed; a Hot failure is reported but not returned, and the Hot entry is
// dropped when the Hot log supports it.
func (s *Storage) Record(ctx context.Context, key string, e notify.Entry) error {
	if s.cold.Enabled() {
		if err := s.cold.Record(ctx, key, e); err != nil {
			return err
		}
	}
	if !s.hot.Enabled() {
		return nil
	}
	err := s.hot.Record(ctx, key, e)
	if !s.cold.Enabled() {
		return err
	}
	if err != nil {
		s.report(err)
		if f, ok := s.hot.(forgetter); ok {
			if ferr := f.Forget(context.WithoutCancel(ctx), key); ferr != nil {
				s.report(fmt.Errorf("forget stale entry: %w", ferr))
			}
		}
	}
	return nil
}
