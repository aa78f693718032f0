package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClosedConnection(t *testing.T) *Connection {
	t.Helper()
	var wg sync.WaitGroup
	conn := NewConnection(context.Background(), &wg, nil, ConnectionConfig{
		ReadTimeout: time.Second,
	}, nil, nil, newTestLogger())
	conn.Close(nil)
	return conn
}

func TestSendAfterCloseIsDropped(t *testing.T) {
	conn := newClosedConnection(t)

	// A closed connection must swallow sends, not panic. Loop past the
	// buffer size so a reintroduced channel close would surface.
	for i := 0; i < 300; i++ {
		conn.Send([]byte("hello"))
	}
}

func TestSendRacingCloseDoesNotPanic(t *testing.T) {
	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		conn := NewConnection(context.Background(), &wg, nil, ConnectionConfig{
			ReadTimeout: time.Second,
		}, nil, nil, newTestLogger())

		var senders sync.WaitGroup
		for s := 0; s < 4; s++ {
			senders.Add(1)
			go func() {
				defer senders.Done()
				for j := 0; j < 100; j++ {
					conn.Send([]byte("payload"))
				}
			}()
		}
		conn.Close(nil)
		senders.Wait()
	}
}

func TestCloseBeforeRunBalancesWaitGroup(t *testing.T) {
	var wg sync.WaitGroup
	conn := NewConnection(context.Background(), &wg, nil, ConnectionConfig{
		ReadTimeout: time.Second,
	}, nil, nil, newTestLogger())

	conn.Close(nil)
	wg.Wait()

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done channel should be closed after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := newClosedConnection(t)
	conn.Close(nil)
	conn.Close(nil)
}
