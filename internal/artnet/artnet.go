// Package artnet mirrors the LED slots onto DMX channels of one art-net
// universe so studio tally lights follow the screen.
package artnet

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Haba1234/go-artnet"

	"onairsync/internal/config"
	"onairsync/internal/logger"
	"onairsync/internal/state"
)

const (
	keepalive   = 2 * time.Second
	nodesPeriod = 30 * time.Second
)

// Sender is the part of the go-artnet controller the tally uses.
type Sender interface {
	SendDMXToAddress(dmx [512]byte, address artnet.Address)
}

// ArtNet is transport for the ArtNet protocol (DMX over UDP/IP).
type ArtNet struct {
	log        *logger.Log
	store      *state.Store
	sender     Sender
	controller *artnet.Controller
	address    artnet.Address
	first      int
	keepalive  time.Duration
}

// NewController finds the art-net interface and builds the controller.
func NewController(log *logger.Log, cfg config.ArtNetConf, store *state.Store) (*ArtNet, error) {
	log = log.Module("art-net")
	ip, err := FindArtNetIP(cfg.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}

	host = strings.ToLower(strings.Split(host, ".")[0])
	log.With(logger.Fields{"ip": ip.String(), "host": host}).Info("using art-net interface")

	ctrl := artnet.NewController(host, ip, artnet.NewDefaultLogger("info"), artnet.MaxFPS(1))
	c := newArtNet(log, store, ctrl, cfg.Universe, cfg.Channel)
	c.controller = ctrl
	return c, nil
}

func newArtNet(log *logger.Log, store *state.Store, sender Sender, universe uint16, first int) *ArtNet {
	if first < 1 {
		first = 1
	}
	return &ArtNet{
		log:       log,
		store:     store,
		sender:    sender,
		address:   universeToAddress(universe),
		first:     first,
		keepalive: keepalive,
	}
}

// Run sends a frame for every LED change and repeats the last frame on a
// keepalive tick until ctx is done. The universe is blacked out on exit.
func (c *ArtNet) Run(ctx context.Context) error {
	if c.controller != nil {
		if err := c.controller.Start(); err != nil {
			return fmt.Errorf("failed to start Controller: %w", err)
		}
		defer c.controller.Stop()
	}

	states, unsubscribe := c.store.Subscribe()
	defer unsubscribe()

	tick := time.NewTicker(c.keepalive)
	defer tick.Stop()
	nodes := time.NewTicker(nodesPeriod)
	defer nodes.Stop()

	frame := tallyFrame(c.store.Snapshot().LEDs, c.first)
	c.send(frame)
	for {
		select {
		case <-ctx.Done():
			c.send(Universe{})
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			next := tallyFrame(st.LEDs, c.first)
			if next == frame {
				continue
			}
			frame = next
			c.send(frame)
		case <-tick.C:
			c.send(frame)
		case <-nodes.C:
			c.debugDevices()
		}
	}
}

func (c *ArtNet) send(frame Universe) {
	c.sender.SendDMXToAddress(frame, c.address)
}

// Nodes lists the art-net nodes seen on the network.
func (c *ArtNet) Nodes() []NodeInfo {
	if c.controller == nil {
		return nil
	}
	out := make([]NodeInfo, 0, len(c.controller.Nodes))
	for _, n := range c.controller.Nodes {
		info := NodeInfo{IP: n.UDPAddress.String(), Name: n.Node.Name}
		for _, p := range n.Node.OutputPorts {
			info.Outputs = append(info.Outputs, p.Address.String())
		}
		out = append(out, info)
	}
	return out
}

func (c *ArtNet) debugDevices() {
	nodes := c.Nodes()
	c.log.With(logger.Fields{"count": len(nodes), "nodes": nodes}).Debug("art-net nodes")
}
