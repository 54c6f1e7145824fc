// Package udp receives one command per datagram on a unicast port that also
// joins a multicast group.
package udp

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/ipv4"

	"onairsync/internal/command"
	"onairsync/internal/dispatch"
	"onairsync/internal/logger"
	"onairsync/internal/retry"
)

// Submitter is the command sink.
type Submitter interface {
	Submit(ctx context.Context, raw []byte, src command.Source) (dispatch.Result, error)
}

// Config of the listener.
type Config struct {
	// Addr is the local bind address, e.g. ":3310".
	Addr string
	// Group is the IPv4 multicast group joined on the same socket; empty disables it.
	Group string
	// Interface names the interface for the group join; empty lets the kernel choose.
	Interface string
	// Retry paces socket restarts; the zero value means retry.DefaultPolicy.
	Retry retry.Policy
}

type Listener struct {
	cfg    Config
	sink   Submitter
	log    *logger.Log
	policy retry.Policy

	mu    sync.Mutex
	addr  net.Addr
	ready chan struct{}
	once  sync.Once
}

func New(cfg Config, sink Submitter, log *logger.Log) *Listener {
	return &Listener{
		cfg:    cfg,
		sink:   sink,
		log:    log.Module("udp"),
		policy: cfg.Retry.OrDefault(),
		ready:  make(chan struct{}),
	}
}

// Ready is closed after the first successful bind.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Addr is the bound local address, nil before Ready.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Run binds and serves until ctx is done. Socket errors rebind with backoff.
func (l *Listener) Run(ctx context.Context) error {
	attempt := 0
	for {
		conn, err := l.bind()
		if err == nil {
			attempt = 0
			err = l.serve(ctx, conn)
			if ctx.Err() != nil {
				return nil
			}
		}
		attempt++
		l.log.With(logger.Fields{"error": err.Error(), "attempt": attempt}).Error("udp listener failed, rebinding")
		if err := l.policy.Wait(ctx, attempt); err != nil {
			return nil
		}
	}
}

func (l *Listener) bind() (*net.UDPConn, error) {
	pc, err := net.ListenPacket("udp4", l.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", l.cfg.Addr, err)
	}
	conn := pc.(*net.UDPConn)

	if l.cfg.Group != "" {
		if err := l.join(conn); err != nil {
			// unicast keeps working without the group
			l.log.With(logger.Fields{"group": l.cfg.Group, "error": err.Error()}).Warn("multicast join failed")
		} else {
			l.log.With(logger.Fields{"group": l.cfg.Group}).Info("joined multicast group")
		}
	}

	l.mu.Lock()
	l.addr = conn.LocalAddr()
	l.mu.Unlock()
	l.once.Do(func() { close(l.ready) })
	l.log.With(logger.Fields{"addr": conn.LocalAddr().String()}).Info("udp listener started")
	return conn, nil
}

func (l *Listener) join(conn *net.UDPConn) error {
	ip := net.ParseIP(l.cfg.Group)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return fmt.Errorf("not an IPv4 multicast group: %q", l.cfg.Group)
	}
	var ifi *net.Interface
	if l.cfg.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(l.cfg.Interface); err != nil {
			return err
		}
	}
	return ipv4.NewPacketConn(conn).JoinGroup(ifi, &net.UDPAddr{IP: ip})
}

func (l *Listener) serve(ctx context.Context, conn *net.UDPConn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()

	buf := make([]byte, command.MaxPayload+1)
	for {
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		if _, err := l.sink.Submit(ctx, raw, command.SourceUDP); err != nil {
			l.log.With(logger.Fields{"from": remote.String()}).Debug("datagram dropped")
		}
	}
}
