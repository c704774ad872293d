package pipe

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryWriteTryRead(t *testing.T) {
	w, r := New(4)
	buf := make([]byte, 8)

	_, err := r.TryRead(buf)
	assert.ErrorIs(t, err, ErrShouldWait)

	n, err := w.TryWrite([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 4, n, "only capacity is accepted")

	_, err = w.TryWrite([]byte("ef"))
	assert.ErrorIs(t, err, ErrShouldWait)

	n, err = r.TryRead(buf[:3])
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))

	n, err = w.TryWrite([]byte("ef"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.TryRead(buf)
	require.NoError(t, err)
	assert.Equal(t, "def", string(buf[:n]))
}

func TestSignals(t *testing.T) {
	w, r := New(2)
	select {
	case <-r.Readable():
		t.Fatal("readable before any write")
	default:
	}

	_, err := w.TryWrite([]byte("ab"))
	require.NoError(t, err)
	select {
	case <-r.Readable():
	default:
		t.Fatal("write did not signal readable")
	}

	_, err = r.TryRead(make([]byte, 1))
	require.NoError(t, err)
	select {
	case <-w.Writable():
	default:
		t.Fatal("read did not signal writable")
	}
}

func TestProducerCloseDrainsThenFails(t *testing.T) {
	w, r := New(8)
	_, err := w.TryWrite([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	buf := make([]byte, 8)
	n, err := r.TryRead(buf)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(buf[:n]))

	_, err = r.TryRead(buf)
	assert.ErrorIs(t, err, ErrFailedPrecondition)

	_, err = w.TryWrite([]byte("x"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestConsumerCloseFailsProducer(t *testing.T) {
	w, r := New(8)
	require.NoError(t, r.Close())
	_, err := w.TryWrite([]byte("x"))
	assert.ErrorIs(t, err, ErrFailedPrecondition)

	_, err = r.TryRead(make([]byte, 1))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestBlockingCopy(t *testing.T) {
	w, r := New(3)
	payload := bytes.Repeat([]byte("0123456789"), 100)

	done := make(chan error, 1)
	go func() {
		_, err := w.Write(context.Background(), payload)
		if err == nil {
			err = w.Close()
		}
		done <- err
	}()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, payload, got)
}

func TestWriteCancelled(t *testing.T) {
	w, _ := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	n, err := w.Write(ctx, []byte("abc"))
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteFailsWhenConsumerGoes(t *testing.T) {
	w, r := New(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = r.Close()
	}()
	_, err := w.Write(context.Background(), []byte("abc"))
	assert.ErrorIs(t, err, ErrFailedPrecondition)
}
