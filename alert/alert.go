// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends mail alerts on acquisition session events.
package alert // import "github.com/go-lpc/hsdaq/alert"

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/daq"
	mail "gopkg.in/gomail.v2"
)

// Config describes the mail server and the recipients of alerts.
type Config struct {
	Server   string   `koanf:"server" yaml:"server"`
	Port     int      `koanf:"port" yaml:"port"`
	User     string   `koanf:"user" yaml:"user"`
	Password string   `koanf:"password" yaml:"password"`
	To       []string `koanf:"to" yaml:"to"`
}

// FromEnv returns the configuration defined by the MAIL_USERNAME,
// MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment
// variables.
func FromEnv() Config {
	port, _ := strconv.Atoi(os.Getenv("MAIL_PORT"))
	var tgts []string
	for _, v := range strings.Split(os.Getenv("MAIL_TGTS"), ",") {
		if v = strings.TrimSpace(v); v != "" {
			tgts = append(tgts, v)
		}
	}
	return Config{
		Server:   os.Getenv("MAIL_SERVER"),
		Port:     port,
		User:     os.Getenv("MAIL_USERNAME"),
		Password: os.Getenv("MAIL_PASSWORD"),
		To:       tgts,
	}
}

// Validate checks the configuration holds credentials and recipients.
func (cfg Config) Validate() error {
	if cfg.User == "" || cfg.Password == "" || cfg.Server == "" || cfg.Port == 0 || len(cfg.To) == 0 {
		return fmt.Errorf("alert: missing mail credentials")
	}
	return nil
}

// Mailer queues session events and mails them.
// At most limit alerts are sent per event kind.
type Mailer struct {
	cfg   Config
	msg   log.MsgStream
	send  func(msgs ...*mail.Message) error
	limit int

	queue   chan alert
	dropped atomic.Uint64

	mu    sync.Mutex
	sent  map[daq.EventKind]int
	kinds []daq.EventKind
}

type alert struct {
	dev string
	evt daq.Event
}

type config struct {
	msg    log.MsgStream
	sender mail.Sender
	limit  int
	queue  int
}

// Option configures a Mailer.
type Option func(*config)

// WithLogger sets the message stream of the mailer.
func WithLogger(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithSender sets the mail sender, instead of dialing the configured
// server.
func WithSender(s mail.Sender) Option {
	return func(cfg *config) {
		cfg.sender = s
	}
}

// WithLimit sets the maximum number of alerts sent per event kind.
func WithLimit(n int) Option {
	return func(cfg *config) {
		cfg.limit = n
	}
}

// WithQueue sets the number of events waiting to be mailed.
func WithQueue(n int) Option {
	return func(cfg *config) {
		cfg.queue = n
	}
}

// New returns a mailer sending alerts as described by cfg.
func New(cfg Config, opts ...Option) (*Mailer, error) {
	c := config{
		msg:   log.NewMsgStream("alert", log.LvlInfo, os.Stdout),
		limit: 5,
		queue: 64,
	}
	for _, opt := range opts {
		opt(&c)
	}

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if c.queue <= 0 {
		return nil, fmt.Errorf("alert: invalid queue size (%d)", c.queue)
	}

	m := &Mailer{
		cfg:   cfg,
		msg:   c.msg,
		limit: c.limit,
		queue: make(chan alert, c.queue),
		sent:  make(map[daq.EventKind]int),
		kinds: []daq.EventKind{daq.EventError, daq.EventBufferOverflow, daq.EventDataSamplingTimeout},
	}
	switch c.sender {
	case nil:
		dial := mail.NewDialer(cfg.Server, cfg.Port, cfg.User, cfg.Password)
		dial.TLSConfig = &tls.Config{
			ServerName: cfg.Server,
		}
		m.send = dial.DialAndSend
	default:
		m.send = func(msgs ...*mail.Message) error {
			return mail.Send(c.sender, msgs...)
		}
	}
	return m, nil
}

// Register installs the mailer as the handler of the error, overflow and
// sampling timeout events of the session.
// timeout is the sampling timeout in milliseconds; no timeout handler is
// installed when it is zero.
func (m *Mailer) Register(sess *daq.Session, timeout uint32) error {
	for _, kind := range m.kinds {
		var param uint32
		if kind == daq.EventDataSamplingTimeout {
			if timeout == 0 {
				continue
			}
			param = timeout
		}
		err := sess.SetEventHandler(kind, param, m.Handler, sess.Name())
		if err != nil {
			return fmt.Errorf("alert: could not register %v handler: %w", kind, err)
		}
	}
	return nil
}

// Handler queues an event. uctx, when a string, names the device.
// Events are dropped when the queue is full.
func (m *Mailer) Handler(evt daq.Event, uctx interface{}) {
	dev, _ := uctx.(string)
	select {
	case m.queue <- alert{dev: dev, evt: evt}:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns the number of events dropped because the queue was full.
func (m *Mailer) Dropped() uint64 { return m.dropped.Load() }

// Run mails queued events until ctx is canceled.
func (m *Mailer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-m.queue:
			if !m.take(a.evt.Kind) {
				continue
			}
			err := m.send(m.message(a))
			if err != nil {
				m.msg.Errorf("could not send mail alert: %+v", err)
			}
		}
	}
}

func (m *Mailer) take(kind daq.EventKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sent[kind] >= m.limit {
		return false
	}
	m.sent[kind]++
	return true
}

// Reset re-enables alerts for all event kinds.
func (m *Mailer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = make(map[daq.EventKind]int)
}

func (m *Mailer) message(a alert) *mail.Message {
	dev := a.dev
	if dev == "" {
		dev = a.evt.Session.String()
	}

	var body strings.Builder
	fmt.Fprintf(&body, "device: %s\n", dev)
	fmt.Fprintf(&body, "event:  %v\n", a.evt.Kind)
	fmt.Fprintf(&body, "time:   %s\n", a.evt.Time.UTC().Format(time.RFC3339Nano))
	switch a.evt.Kind {
	case daq.EventBufferOverflow:
		fmt.Fprintf(&body, "dropped samples: %d\n", a.evt.Count)
	case daq.EventDataSamplingTimeout:
		fmt.Fprintf(&body, "elapsed: %d ms\n", a.evt.Count)
	}
	if a.evt.Err != nil {
		fmt.Fprintf(&body, "error:  %v\n", a.evt.Err)
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.User)
	msg.SetHeader("Bcc", m.cfg.To...)
	msg.SetHeader("Subject", fmt.Sprintf("[hsdaq] %s: %v", dev, a.evt.Kind))
	msg.SetBody("text/plain", body.String())
	return msg
}
