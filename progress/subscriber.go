package progress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mailsized/domain"
	"mailsized/obs"
)

const DefaultFetchTimeout = 15 * time.Second

// Channel is an open server-push connection for one job.
type Channel interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

type Opener interface {
	Open(ctx context.Context, jobID string) (Channel, error)
}

// Resolver fetches the download reference of a finished job.
type Resolver interface {
	FetchDownload(ctx context.Context, jobID string) (string, error)
}

// Listener receives the outcome of a subscription. Calls come from the
// subscription goroutine, one at a time.
type Listener interface {
	OnProgress(jobID string, percent int, message string)
	OnComplete(jobID, downloadURL string)
	OnFailure(jobID string, err error)
}

type Options struct {
	Opener       Opener
	Resolver     Resolver
	Listener     Listener
	Logger       *slog.Logger
	FetchTimeout time.Duration
}

// Subscriber owns at most one open channel.
type Subscriber struct {
	opener       Opener
	resolver     Resolver
	listener     Listener
	logger       *slog.Logger
	fetchTimeout time.Duration

	mu     sync.Mutex
	active *subscription
}

type subscription struct {
	jobID  string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	ch      Channel
	stopped bool
}

// closeChannel closes the connection without cancelling the subscription
// context, so a follow-up fetch can still run.
func (s *subscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
}

func (s *subscription) stop() {
	s.closeChannel()
	s.cancel()
}

func NewSubscriber(opts Options) (*Subscriber, error) {
	if opts.Opener == nil || opts.Listener == nil {
		return nil, errors.New("progress: opener and listener are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ft := opts.FetchTimeout
	if ft <= 0 {
		ft = DefaultFetchTimeout
	}
	return &Subscriber{
		opener:       opts.Opener,
		resolver:     opts.Resolver,
		listener:     opts.Listener,
		logger:       logger,
		fetchTimeout: ft,
	}, nil
}

// Attach subscribes to jobID. Attaching to the job that is already being
// followed is a no-op; any other active subscription is closed first.
func (s *Subscriber) Attach(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("progress: job id is empty")
	}

	s.mu.Lock()
	if s.active != nil && s.active.jobID == jobID {
		s.mu.Unlock()
		return nil
	}
	prev := s.active
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{jobID: jobID, ctx: subCtx, cancel: cancel, done: make(chan struct{})}
	s.active = sub
	s.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	go s.run(sub)
	return nil
}

// Detach closes the active subscription, if any.
func (s *Subscriber) Detach() {
	s.mu.Lock()
	sub := s.active
	s.active = nil
	s.mu.Unlock()
	if sub != nil {
		sub.stop()
	}
}

// Active returns the job id currently followed.
func (s *Subscriber) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.jobID, true
}

// Wait blocks until the active subscription ends or ctx is done.
func (s *Subscriber) Wait(ctx context.Context) error {
	s.mu.Lock()
	sub := s.active
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	select {
	case <-sub.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscriber) isActive(sub *subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == sub
}

func (s *Subscriber) release(sub *subscription) {
	s.mu.Lock()
	if s.active == sub {
		s.active = nil
	}
	s.mu.Unlock()
	sub.stop()
	close(sub.done)
}

func (s *Subscriber) run(sub *subscription) {
	defer s.release(sub)
	log := s.logger.With("job_id", sub.jobID)

	ch, err := s.opener.Open(sub.ctx, sub.jobID)
	if err != nil {
		if sub.ctx.Err() == nil {
			log.Warn("progress channel open failed", "err", err)
			obs.RecordProgressFrame("dropped")
		}
		return
	}
	sub.mu.Lock()
	if sub.stopped {
		sub.mu.Unlock()
		_ = ch.Close()
		return
	}
	sub.ch = ch
	sub.mu.Unlock()

	var m Machine
	for {
		data, err := ch.Next(sub.ctx)
		if err != nil {
			if sub.ctx.Err() == nil && s.isActive(sub) {
				if errors.Is(err, io.EOF) {
					log.Warn("progress channel closed by server")
				} else {
					log.Warn("progress channel dropped", "err", err)
				}
				obs.RecordProgressFrame("dropped")
			}
			return
		}
		if !s.isActive(sub) {
			return
		}

		step := m.Feed(data)
		obs.RecordProgressFrame(string(step.Transition))
		switch step.Transition {
		case TransitionMalformed:
			log.Debug("malformed progress frame ignored", "bytes", len(data))
			continue
		case TransitionIgnored:
			continue
		}

		s.listener.OnProgress(sub.jobID, step.Percent, step.Message)

		switch step.Transition {
		case TransitionDoneWithURL:
			sub.closeChannel()
			obs.RecordJobOutcome("completed")
			s.listener.OnComplete(sub.jobID, step.DownloadURL)
			return
		case TransitionDoneNeedsFetch:
			sub.closeChannel()
			if step.Fetch {
				s.resolve(sub, log)
			}
			return
		case TransitionError:
			sub.closeChannel()
			obs.RecordJobOutcome("failed")
			s.listener.OnFailure(sub.jobID, domain.NewError(domain.CodeJobFailed, step.Message, nil))
			return
		}
	}
}

func (s *Subscriber) resolve(sub *subscription, log *slog.Logger) {
	if s.resolver == nil {
		s.listener.OnFailure(sub.jobID, domain.NewError(domain.CodeDownloadUnavailable, "No download URL. Try refreshing.", nil))
		return
	}
	ctx, cancel := context.WithTimeout(sub.ctx, s.fetchTimeout)
	defer cancel()
	u, err := s.resolver.FetchDownload(ctx, sub.jobID)
	if sub.ctx.Err() != nil {
		return
	}
	if err != nil || strings.TrimSpace(u) == "" {
		log.Warn("download reference fetch failed", "err", err)
		obs.RecordJobOutcome("download_unavailable")
		s.listener.OnFailure(sub.jobID, domain.NewError(domain.CodeDownloadUnavailable, "No download URL. Try refreshing.", err))
		return
	}
	obs.RecordJobOutcome("completed")
	s.listener.OnComplete(sub.jobID, u)
}
