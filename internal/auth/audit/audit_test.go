package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/auth/audit"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/internal/auth/store/storetest"
	"github.com/aussiebroadwan/authcore/pkg/clockx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())
	return st
}

func flush(t *testing.T, l *audit.Logger) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Flush(ctx))
}

func TestLogWritesToStore(t *testing.T) {
	st := newStore(t)
	l := audit.NewLogger(st, slogx.Discard(), clockx.NewFake(storetest.Base), 0)
	l.Start()
	defer l.Stop()

	l.Log(context.Background(), domain.EventUserLogin, map[string]any{"email": "a@b.com"}, "user-1", "10.0.0.1")
	l.Log(context.Background(), domain.EventLoginFailed, nil, "", "10.0.0.2")
	flush(t, l)

	entries, err := st.AuditLogs().ListByUser(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.EventUserLogin, entries[0].EventType)
	require.Equal(t, "10.0.0.1", entries[0].Details["ipAddress"])
	require.Equal(t, "a@b.com", entries[0].Details["email"])
	require.Equal(t, storetest.Base.Format(time.RFC3339), entries[0].Details["timestamp"])

	n, err := st.AuditLogs().CountSince(context.Background(), storetest.Base)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	require.Zero(t, l.Health().Failed)
}

func TestLogNeverBlocksWhenFull(t *testing.T) {
	st := newStore(t)
	l := audit.NewLogger(st, slogx.Discard(), nil, 1)

	done := make(chan struct{})
	go func() {
		for range 5 {
			l.Log(context.Background(), domain.EventUserLogin, nil, "u", "ip")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a full queue")
	}
	require.EqualValues(t, 4, l.Health().Dropped)

	l.Stop()
	n, err := st.AuditLogs().CountSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "stop drains what was queued")
}

func TestLogAfterStopIsDropped(t *testing.T) {
	st := newStore(t)
	l := audit.NewLogger(st, slogx.Discard(), nil, 0)
	l.Start()
	l.Stop()

	l.Log(context.Background(), domain.EventUserLogin, nil, "u", "ip")
	require.EqualValues(t, 1, l.Health().Dropped)
	require.Zero(t, l.Health().Queued)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, l.Flush(ctx), "flush after stop returns at once")

	n, err := st.AuditLogs().CountSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStoreFailureIsCountedNotReturned(t *testing.T) {
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	l := audit.NewLogger(st, slogx.Discard(), nil, 0)
	l.Start()
	defer l.Stop()

	l.Log(context.Background(), domain.EventUserLogin, nil, "u", "ip")
	flush(t, l)

	h := l.Health()
	require.EqualValues(t, 1, h.Failed)
	require.Contains(t, h.LastError, "store")
}

type recordingSink struct {
	entries []domain.AuditEntry
	err     error
	closed  bool
}

func (r *recordingSink) Name() string { return "recording" }
func (r *recordingSink) Write(_ context.Context, e domain.AuditEntry) error {
	r.entries = append(r.entries, e)
	return r.err
}
func (r *recordingSink) Close() error { r.closed = true; return nil }

func TestSinksReceiveEntries(t *testing.T) {
	st := newStore(t)
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("unreachable")}

	l := audit.NewLogger(st, slogx.Discard(), nil, 0, good, bad)
	l.Start()

	l.Log(context.Background(), domain.EventMFAEnabled, nil, "u", "ip")
	flush(t, l)
	l.Stop()

	require.Len(t, good.entries, 1)
	require.True(t, good.closed)
	require.EqualValues(t, 1, l.Health().Failed)
}

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func TestKafkaSinkPublishes(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var msg map[string]any
		if err := json.Unmarshal(val, &msg); err != nil {
			return err
		}
		if msg["event_type"] != string(domain.EventPasswordReset) {
			return errors.New("unexpected event type")
		}
		if msg["user_id"] != "user-1" {
			return errors.New("missing user id")
		}
		return nil
	})

	sink := audit.NewKafkaSinkWithProducer(producer, "")
	uid := "user-1"
	err := sink.Write(context.Background(), domain.AuditEntry{
		ID:        "01J",
		EventType: domain.EventPasswordReset,
		UserID:    &uid,
		Details:   map[string]any{"ipAddress": "10.0.0.1"},
		CreatedAt: storetest.Base,
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close())
}

func TestKafkaSinkReportsFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, producerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := audit.NewKafkaSinkWithProducer(producer, "custom.topic")
	err := sink.Write(context.Background(), domain.AuditEntry{EventType: domain.EventLoginFailed, CreatedAt: storetest.Base})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, sink.Close())
}
