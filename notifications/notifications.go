package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bartossh/Accreditor/httpclient"
	"github.com/bartossh/Accreditor/logger"
)

const (
	queueSize          = 256
	defaultHookTimeout = 5 * time.Second
)

var ErrQueueFull = errors.New("admin notification queue is full")

// Hook is the webhook that receives admin notifications.
type Hook struct {
	URL   string `yaml:"url"   json:"address"` // URL is a url of the webhook.
	Token string `yaml:"token" json:"token"`   // Token is added to the message to verify that it comes from the valid source.
}

// Message is the message posted to the webhook url.
type Message struct {
	CreatedAt time.Time `json:"created_at"`
	Token     string    `json:"token"`
	Service   string    `json:"service"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail"`
}

// Config contains configuration of admin notifications.
type Config struct {
	Hooks              []Hook `yaml:"hooks"`                // Hooks receive every notification.
	HookTimeoutSeconds int    `yaml:"hook_timeout_seconds"` // HookTimeoutSeconds of a single webhook post, 5 if not set.
}

// Publisher publishes notifications on the message bus.
type Publisher interface {
	PublishNotification(subject, detail string) error
}

type notification struct {
	at              time.Time
	subject, detail string
}

// Service notifies administrators. Every notification is logged immediately,
// publishing and webhook posting happen in the background so Notify never blocks the caller.
type Service struct {
	mux     sync.RWMutex
	hooks   []Hook
	pub     Publisher
	log     logger.Logger
	queue   chan notification
	service string
	timeout time.Duration
}

// New creates new instance of the admin notification service. Publisher may be nil.
func New(cfg Config, service string, pub Publisher, log logger.Logger) *Service {
	timeout := defaultHookTimeout
	if cfg.HookTimeoutSeconds > 0 {
		timeout = time.Duration(cfg.HookTimeoutSeconds) * time.Second
	}
	return &Service{
		hooks:   append([]Hook(nil), cfg.Hooks...),
		pub:     pub,
		log:     log,
		queue:   make(chan notification, queueSize),
		service: service,
		timeout: timeout,
	}
}

// Notify notifies administrators about the subject.
func (s *Service) Notify(subject, detail string) {
	s.log.Warn(fmt.Sprintf("admin notification, %s: %s", subject, detail))
	select {
	case s.queue <- notification{at: time.Now(), subject: subject, detail: detail}:
	default:
		s.log.Error(fmt.Sprintf("%s, dropped: %s", ErrQueueFull, subject))
	}
}

// AddHook adds the webhook or updates the token of the existing one with the same url.
func (s *Service) AddHook(h Hook) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for i := range s.hooks {
		if s.hooks[i].URL == h.URL {
			s.hooks[i] = h
			return
		}
	}
	s.hooks = append(s.hooks, h)
}

// RemoveHook removes the webhook with given url.
func (s *Service) RemoveHook(url string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	for i := range s.hooks {
		if s.hooks[i].URL == url {
			s.hooks = append(s.hooks[:i], s.hooks[i+1:]...)
			return
		}
	}
}

// Run delivers queued notifications until the context is canceled.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-s.queue:
			s.deliver(n)
		}
	}
}

func (s *Service) deliver(n notification) {
	if s.pub != nil {
		if err := s.pub.PublishNotification(n.subject, n.detail); err != nil {
			s.log.Error(fmt.Sprintf("admin notification publish failed: %s", err))
		}
	}

	s.mux.RLock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mux.RUnlock()

	in := make(map[string]any)
	for _, h := range hooks {
		msg := Message{
			CreatedAt: n.at,
			Token:     h.Token,
			Service:   s.service,
			Subject:   n.subject,
			Detail:    n.detail,
		}
		if err := httpclient.MakePost(s.timeout, h.URL, msg, &in); err != nil {
			s.log.Error(fmt.Sprintf("admin notification error posting to webhook url: %s, %s", h.URL, err))
		}
	}
}
