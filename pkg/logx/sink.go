package logx

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	sinkQueueSize = 64
	sinkTextRunes = 500
)

// ErrorSinkConfig controls forwarding of log lines to the user.
type ErrorSinkConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// ErrorSink receives log lines meant for the user. PresentError runs on the
// sink goroutine, never on the logging caller.
type ErrorSink interface {
	PresentError(text string)
}

type ErrorSinkFunc func(text string)

func (f ErrorSinkFunc) PresentError(text string) { f(text) }

type errorSink struct {
	mu      sync.Mutex
	target  ErrorSink
	enabled bool
	min     zerolog.Level
	limiter *rate.Limiter

	queue  chan string
	once   sync.Once
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SetErrorSink installs the receiver. Lines logged before that are dropped.
func (s *Service) SetErrorSink(sink ErrorSink) {
	s.sink.mu.Lock()
	s.sink.target = sink
	s.sink.mu.Unlock()
}

func (s *Service) forward(level zerolog.Level, msg string, err error) {
	s.sink.offer(level, msg, err)
}

func (k *errorSink) init() {
	k.queue = make(chan string, sinkQueueSize)
	k.min = zerolog.ErrorLevel
}

func (k *errorSink) configure(cfg ErrorSinkConfig) {
	rps := max(1, cfg.RatePerSec)
	k.mu.Lock()
	k.enabled = cfg.Enabled
	k.min = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	k.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	k.mu.Unlock()

	if cfg.Enabled {
		k.once.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			k.mu.Lock()
			k.cancel = cancel
			k.mu.Unlock()
			k.wg.Add(1)
			go k.run(ctx)
		})
	}
}

// offer queues a line without blocking; over the rate or a full queue drops it.
func (k *errorSink) offer(level zerolog.Level, msg string, err error) {
	k.mu.Lock()
	ok := k.enabled && k.target != nil && level >= k.min && k.limiter != nil && k.limiter.Allow()
	k.mu.Unlock()
	if !ok {
		return
	}
	text := sinkText(msg, err)
	if text == "" {
		return
	}
	select {
	case k.queue <- text:
	default:
	}
}

func (k *errorSink) run(ctx context.Context) {
	defer k.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-k.queue:
			k.mu.Lock()
			target := k.target
			k.mu.Unlock()
			if target != nil {
				target.PresentError(text)
			}
		}
	}
}

func (k *errorSink) close() {
	k.mu.Lock()
	cancel := k.cancel
	k.cancel = nil
	k.mu.Unlock()
	if cancel != nil {
		cancel()
		k.wg.Wait()
	}
}

// sinkText is the message plus its error, cut to sinkTextRunes.
func sinkText(msg string, err error) string {
	text := strings.TrimSpace(msg)
	if err != nil {
		if text != "" {
			text += ": "
		}
		text += err.Error()
	}
	if utf8.RuneCountInString(text) <= sinkTextRunes {
		return text
	}
	r := []rune(text)
	return string(r[:sinkTextRunes-1]) + "…"
}
