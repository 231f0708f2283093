package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Config holds the poller timings.
type Config struct {
	ActiveInterval time.Duration
	HiddenInterval time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	ReloadDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = 5 * time.Second
	}
	if c.HiddenInterval < c.ActiveInterval {
		c.HiddenInterval = c.ActiveInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.ReloadDelay < 0 {
		c.ReloadDelay = 0
	}
	// MaxBackoff must exceed both baselines.
	if c.MaxBackoff <= c.HiddenInterval {
		c.MaxBackoff = 2 * c.HiddenInterval
	}
	return c
}

// Poller periodically asks the order API for new orders and drives the alert
// channels when one shows up. One Poller exists per console process.
type Poller struct {
	cfg       Config
	checker   Checker
	sound     Sound
	notifier  SystemNotifier
	banner    Banner
	reloader  Reloader
	publisher Publisher
	log       logrus.FieldLogger

	// pollMu serializes polls so lastSeen is read and written by one poll at a time.
	pollMu sync.Mutex

	mu          sync.Mutex
	lastSeen    int64
	current     *Alert
	visible     bool
	failures    int
	backoff     *backoff.ExponentialBackOff
	extra       time.Duration
	cancel      context.CancelFunc
	done        chan struct{}
	reloadTimer *time.Timer

	wake chan struct{}
}

// Option configures a Poller.
type Option func(*Poller)

func WithSound(s Sound) Option { return func(p *Poller) { p.sound = s } }

func WithNotifier(n SystemNotifier) Option { return func(p *Poller) { p.notifier = n } }

func WithBanner(b Banner) Option { return func(p *Poller) { p.banner = b } }

func WithReloader(r Reloader) Option { return func(p *Poller) { p.reloader = r } }

// WithPublisher adds a broker fan-out to the alert channels.
func WithPublisher(pub Publisher) Option { return func(p *Poller) { p.publisher = pub } }

func WithLogger(l logrus.FieldLogger) Option { return func(p *Poller) { p.log = l } }

// WithLastSeen seeds the id new orders are compared against.
func WithLastSeen(id int64) Option { return func(p *Poller) { p.lastSeen = id } }

// NewPoller creates a stopped Poller.
func NewPoller(checker Checker, cfg Config, opts ...Option) *Poller {
	cfg = cfg.withDefaults()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ActiveInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = cfg.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	p := &Poller{
		cfg:      cfg,
		checker:  checker,
		sound:    nopSound{},
		notifier: nopNotifier{},
		banner:   nopBanner{},
		reloader: nopReloader{},
		log:      logrus.StandardLogger(),
		visible:  true,
		backoff:  b,
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("component", "alert_poller")
	return p
}

// --- Lifecycle ---

// Start launches the polling loop. The first poll runs immediately. Calling
// Start on a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	go p.run(ctx, done)

	p.log.WithFields(logrus.Fields{
		"interval":        p.cfg.ActiveInterval,
		"hidden_interval": p.cfg.HiddenInterval,
		"since_id":        p.lastSeen,
	}).Info("order poller started")
}

// Stop ends the loop, silences the sound and cancels a pending reload.
// It is safe to call repeatedly or on a poller that never started.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	if p.reloadTimer != nil {
		p.reloadTimer.Stop()
		p.reloadTimer = nil
	}
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.sound.Pause()
	p.sound.Rewind()
	p.log.Info("order poller stopped")
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.wake:
		}
		_, _ = p.Poll(ctx)
		timer.Reset(p.NextDelay())
	}
}

// --- Polling ---

// Poll performs one check. It returns the raised alert, or nil when there is
// nothing new. Errors only feed the backoff; they are never shown to users.
func (p *Poller) Poll(ctx context.Context) (*Alert, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	p.mu.Lock()
	since := p.lastSeen
	p.mu.Unlock()

	checkCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	check, err := p.checker.CheckNewOrders(checkCtx, since)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.mu.Lock()
		p.failures++
		p.extra = p.backoff.NextBackOff()
		failures := p.failures
		p.mu.Unlock()

		p.log.WithError(err).WithField("failures", failures).Debug("order poll failed")
		return nil, fmt.Errorf("check new orders since %d: %w", since, err)
	}

	p.mu.Lock()
	p.failures = 0
	p.extra = 0
	p.backoff.Reset()
	// Order ids only grow; anything at or below lastSeen was already alerted.
	if !check.NewOrder || check.Order == nil || check.Order.ID <= p.lastSeen {
		p.mu.Unlock()
		return nil, nil
	}
	a := Alert{Order: *check.Order, DetectedAt: time.Now()}
	p.lastSeen = a.Order.ID
	p.current = &a
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"order_id": a.Order.ID, "total": a.Order.Total.String()}).Info("new order detected")
	p.raise(ctx, a)
	return &a, nil
}

// raise starts every alert channel at once. A failing channel does not stop
// the others.
func (p *Poller) raise(ctx context.Context, a Alert) {
	var g errgroup.Group

	g.Go(func() error {
		if err := p.sound.Play(ctx); err != nil {
			return fmt.Errorf("sound: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if !p.notifier.Permission() {
			return nil
		}
		if err := p.notifier.Show(ctx, NotificationFor(a)); err != nil {
			return fmt.Errorf("system notification: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := p.banner.Show(ctx, a); err != nil {
			return fmt.Errorf("banner: %w", err)
		}
		return nil
	})
	if p.publisher != nil {
		g.Go(func() error {
			if err := p.publisher.Publish(ctx, a); err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.log.WithError(err).WithField("order_id", a.Order.ID).Warn("alert channel failed")
	}
}

// NextDelay is the wait before the next scheduled poll.
func (p *Poller) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := p.cfg.ActiveInterval
	if !p.visible {
		base = p.cfg.HiddenInterval
	}
	if p.failures == 0 {
		return base
	}
	return min(base+p.extra, p.cfg.MaxBackoff)
}

// --- Acknowledgment ---

// Dismiss acknowledges the current alert: the sound is paused and rewound
// (whether or not it was playing), the banner is hidden, and a full reload is
// scheduled after the configured delay. A poll in progress finishes first, so
// an alert it raises is never silenced together with the one being dismissed.
func (p *Poller) Dismiss() {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	p.sound.Pause()
	p.sound.Rewind()
	p.banner.Hide()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = nil
	if p.reloadTimer != nil {
		p.reloadTimer.Stop()
	}
	p.reloadTimer = time.AfterFunc(p.cfg.ReloadDelay, p.reloader.Reload)
}

// Current returns the alert waiting for acknowledgment, if any.
func (p *Poller) Current() (Alert, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Alert{}, false
	}
	return *p.current, true
}

// --- Visibility ---

// SetVisible records whether any console view is in the foreground. Becoming
// visible triggers an immediate poll.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	was := p.visible
	p.visible = visible
	p.mu.Unlock()

	if visible && !was {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

func (p *Poller) LastSeen() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *Poller) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}
