package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/remote-agent-terminal/tabmux/internal/model"
)

type recordingEmitter struct {
	mu      sync.Mutex
	records []Record
}

func (e *recordingEmitter) Emit(name string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := payload.(Record); ok {
		e.records = append(e.records, rec)
	}
}

func (e *recordingEmitter) snapshot() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Record(nil), e.records...)
}

func TestRate(t *testing.T) {
	cases := []struct {
		transferred, total int64
		want               float64
	}{
		{0, 0, 100},
		{0, 100, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{150, 100, 100},
	}
	for _, c := range cases {
		if got := rate(c.transferred, c.total); got != c.want {
			t.Errorf("rate(%d, %d) = %v, want %v", c.transferred, c.total, got, c.want)
		}
	}
}

func TestReporter_EmitsInitialAndFinal(t *testing.T) {
	em := &recordingEmitter{}
	r := NewReporter(em, time.Hour, nil)

	p := r.Begin(context.Background(), "s1", TypeUpload, "/tmp/a", "/srv/a", 10)
	var dst bytes.Buffer
	if _, err := p.Copy(&dst, strings.NewReader("0123456789")); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	p.Finish(nil)
	p.Finish(errors.New("ignored"))

	recs := em.snapshot()
	if len(recs) != 2 {
		t.Fatalf("expected initial and final records, got %d", len(recs))
	}
	if recs[0].Rate != 0 || recs[0].Done {
		t.Errorf("unexpected initial record %+v", recs[0])
	}
	final := recs[1]
	if !final.Done || final.Rate != 100 || final.Error != "" || final.ID != recs[0].ID {
		t.Errorf("unexpected final record %+v", final)
	}
	if r.Active() != 0 {
		t.Errorf("expected no active transfers, got %d", r.Active())
	}
}

func TestReporter_PeriodicProgress(t *testing.T) {
	em := &recordingEmitter{}
	r := NewReporter(em, 10*time.Millisecond, nil)

	p := r.Begin(context.Background(), "s1", TypeDownload, "/tmp/b", "/srv/b", 100)
	p.Add(50)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		recs := em.snapshot()
		if len(recs) >= 2 && recs[len(recs)-1].Rate == 50 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Finish(nil)

	recs := em.snapshot()
	found := false
	for _, rec := range recs {
		if !rec.Done && rec.Rate == 50 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a periodic 50%% record, got %+v", recs)
	}
	if last := recs[len(recs)-1]; !last.Done {
		t.Errorf("expected final record last, got %+v", last)
	}
}

type blockingReader struct{}

func (blockingReader) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	p[0] = 'x'
	return 1, nil
}

func TestReporter_Cancel(t *testing.T) {
	em := &recordingEmitter{}
	r := NewReporter(em, time.Hour, nil)

	p := r.Begin(context.Background(), "s1", TypeUpload, "/tmp/c", "/srv/c", 1<<30)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Copy(io.Discard, blockingReader{})
		errCh <- err
	}()

	if err := r.Cancel(p.ID()); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
		p.Finish(err)
	case <-time.After(time.Second):
		t.Fatal("copy did not stop after cancel")
	}

	recs := em.snapshot()
	if final := recs[len(recs)-1]; !final.Done || final.Error != "user cancelled" {
		t.Errorf("unexpected final record %+v", final)
	}

	if err := r.Cancel(p.ID()); !errors.Is(err, model.ErrTransferNotFound) {
		t.Errorf("expected ErrTransferNotFound for finished transfer, got %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestCopyWithContext_WriteError(t *testing.T) {
	_, err := CopyWithContext(context.Background(), failingWriter{}, strings.NewReader("abc"))
	if err == nil || err.Error() != "disk full" {
		t.Errorf("expected disk full, got %v", err)
	}
}

func TestCopyWithContext_Deadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := CopyWithContext(ctx, io.Discard, strings.NewReader("abc"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
