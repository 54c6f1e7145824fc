package clientmqtt

import (
	"context"
	"errors"
	"time"

	"onairsync/internal/logger"
	"onairsync/internal/state"
)

// Broadcaster mirrors store revisions onto retained MQTT topics. It owns a
// topic->payload cache and publishes only topics whose payload changed.
type Broadcaster struct {
	store     *state.Store
	pub       Publisher
	topics    Topics
	device    Device
	discovery bool
	log       *logger.Log

	cache    map[string]string
	topology string
	resync   chan struct{}
}

// NewBroadcaster конструктор.
func NewBroadcaster(store *state.Store, pub Publisher, topics Topics, device Device, discovery bool, log *logger.Log) *Broadcaster {
	return &Broadcaster{
		store:     store,
		pub:       pub,
		topics:    topics,
		device:    device,
		discovery: discovery,
		log:       log,
		cache:     make(map[string]string),
		resync:    make(chan struct{}, 1),
	}
}

// Resync drops the cache so the next pass republishes every topic. Safe to
// call from any goroutine.
func (b *Broadcaster) Resync() {
	select {
	case b.resync <- struct{}{}:
	default:
	}
}

// Run publishes the current snapshot and then every new revision until ctx
// is done.
func (b *Broadcaster) Run(ctx context.Context) {
	states, unsubscribe := b.store.Subscribe()
	defer unsubscribe()

	b.sync(b.store.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.resync:
			b.cache = make(map[string]string)
			b.topology = ""
			b.sync(b.store.Snapshot())
		case st, ok := <-states:
			if !ok {
				return
			}
			b.sync(st)
		}
	}
}

// sync publishes the changed topics of st. Failed topics stay out of the
// cache and are retried on the next pass.
func (b *Broadcaster) sync(st *state.State) {
	msgs, err := stateMessages(b.topics, st, time.Now())
	if err != nil {
		b.log.With(logger.Fields{"error": err.Error()}).Error("build state messages")
		return
	}
	topology := st.Topology()
	if b.discovery && topology != b.topology {
		disc, err := discoveryMessages(b.topics, b.device, st)
		if err != nil {
			b.log.With(logger.Fields{"error": err.Error()}).Error("build discovery messages")
			topology = b.topology
		} else {
			msgs = append(disc, msgs...)
		}
	}

	var failed error
	published := 0
	for _, m := range msgs {
		if prev, ok := b.cache[m.Topic]; ok && prev == string(m.Payload) {
			continue
		}
		if err := b.pub.Publish(m.Topic, m.Retained, m.Payload); err != nil {
			failed = errors.Join(failed, err)
			continue
		}
		b.cache[m.Topic] = string(m.Payload)
		published++
	}
	if failed != nil {
		b.log.With(logger.Fields{"revision": st.Revision, "error": failed.Error()}).Warn("publish state")
		return
	}
	b.topology = topology
	if published > 0 {
		b.log.With(logger.Fields{"revision": st.Revision, "topics": published}).Debug("state published")
	}
}
