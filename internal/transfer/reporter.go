package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/eventbus"
	"github.com/remote-agent-terminal/tabmux/internal/model"
)

// DefaultInterval is the period between progress events.
const DefaultInterval = 500 * time.Millisecond

// ErrCancelled is reported by a copy stopped through Cancel.
var ErrCancelled = errors.New("user cancelled")

// Emitter publishes an event; satisfied by eventbus.Bus and eventbus.Adapter.
type Emitter interface {
	Emit(name string, payload any)
}

// Reporter publishes progress for transfers running on the backend side and
// lets callers cancel them by ID.
type Reporter struct {
	emitter  Emitter
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	active map[string]*Progress
}

// NewReporter creates a Reporter. A non-positive interval uses DefaultInterval.
func NewReporter(emitter Emitter, interval time.Duration, log *zap.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{
		emitter:  emitter,
		interval: interval,
		log:      log,
		active:   make(map[string]*Progress),
	}
}

// Begin registers a transfer, emits its initial 0% record and starts the
// periodic reports. The caller must call Finish exactly once.
func (r *Reporter) Begin(ctx context.Context, sessionID, transferType, localFile, remoteFile string, total int64) *Progress {
	ctx, cancel := context.WithCancel(ctx)
	p := &Progress{
		reporter: r,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		base: Record{
			ID:           uuid.NewString(),
			SessionID:    sessionID,
			TransferType: transferType,
			LocalFile:    localFile,
			RemoteFile:   remoteFile,
			TotalSize:    total,
		},
	}

	r.mu.Lock()
	r.active[p.base.ID] = p
	r.mu.Unlock()

	r.log.Info("transfer started",
		zap.String("transfer", p.base.ID),
		zap.String("session", sessionID),
		zap.String("type", transferType),
		zap.Int64("total", total))

	r.emitter.Emit(eventbus.EventProgress, p.base)
	go p.tick(r.interval)
	return p
}

// Cancel stops the transfer with the given ID.
func (r *Reporter) Cancel(id string) error {
	r.mu.Lock()
	p, ok := r.active[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("cancel %s: %w", id, model.ErrTransferNotFound)
	}
	p.cancel()
	return nil
}

// Active returns the number of running transfers.
func (r *Reporter) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Reporter) finish(p *Progress) {
	r.mu.Lock()
	delete(r.active, p.base.ID)
	r.mu.Unlock()
}

// Progress is one running transfer.
type Progress struct {
	reporter *Reporter
	ctx      context.Context
	cancel   context.CancelFunc
	base     Record

	mu          sync.Mutex
	transferred int64
	done        chan struct{}
	finishOnce  sync.Once
}

// ID returns the transfer ID.
func (p *Progress) ID() string {
	return p.base.ID
}

// Context is cancelled when the transfer is cancelled.
func (p *Progress) Context() context.Context {
	return p.ctx
}

// Add records n more transferred bytes.
func (p *Progress) Add(n int64) {
	p.mu.Lock()
	p.transferred += n
	p.mu.Unlock()
}

// Rate returns the completion percentage rounded to two decimals.
func (p *Progress) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rate(p.transferred, p.base.TotalSize)
}

func rate(transferred, total int64) float64 {
	if total <= 0 {
		return 100
	}
	r := float64(transferred) * 100 / float64(total)
	if r > 100 {
		r = 100
	}
	return math.Round(r*100) / 100
}

// Writer wraps w so that every write is counted.
func (p *Progress) Writer(w io.Writer) io.Writer {
	return &ProgressWriter{w: w, p: p}
}

// Copy copies src to dst under the transfer context, counting bytes.
func (p *Progress) Copy(dst io.Writer, src io.Reader) (int64, error) {
	return CopyWithContext(p.ctx, p.Writer(dst), src)
}

func (p *Progress) tick(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rec := p.base
			rec.Rate = p.Rate()
			p.reporter.emitter.Emit(eventbus.EventProgress, rec)
			if rec.Rate >= 100 {
				return
			}
		case <-p.done:
			return
		}
	}
}

// Finish stops the periodic reports and emits the final record. A nil err
// marks success. Calls after the first are ignored.
func (p *Progress) Finish(err error) {
	p.finishOnce.Do(func() {
		close(p.done)
		p.cancel()
		p.reporter.finish(p)

		rec := p.base
		rec.Rate = p.Rate()
		rec.Done = true
		if err != nil {
			rec.Error = err.Error()
			p.reporter.log.Warn("transfer failed", zap.String("transfer", rec.ID), zap.Error(err))
		} else {
			p.reporter.log.Info("transfer finished", zap.String("transfer", rec.ID))
		}
		p.reporter.emitter.Emit(eventbus.EventProgress, rec)
	})
}

// ProgressWriter counts bytes written through it.
type ProgressWriter struct {
	w io.Writer
	p *Progress
}

func (pw *ProgressWriter) Write(b []byte) (int, error) {
	n, err := pw.w.Write(b)
	if n > 0 {
		pw.p.Add(int64(n))
	}
	return n, err
}

// CopyWithContext copies src to dst until EOF or until ctx is done. A
// cancelled context yields ErrCancelled.
func CopyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return written, ErrCancelled
			}
			return written, ctx.Err()
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			nw, werr := dst.Write(buf[:n])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw < n {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}
