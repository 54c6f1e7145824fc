package command

import (
	"fmt"
	"time"
)

// Source identifies the transport a command arrived on.
type Source int

const (
	SourceUDP Source = iota
	SourceHTTP
	SourceMQTT
	// SourceInternal marks commands generated inside the process
	// (health check, stream monitor, settings watcher).
	SourceInternal
)

func (s Source) String() string {
	switch s {
	case SourceUDP:
		return "UDP"
	case SourceHTTP:
		return "HTTP"
	case SourceMQTT:
		return "MQTT"
	case SourceInternal:
		return "INTERNAL"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Namespace is the closed set of command namespaces.
type Namespace int

const (
	NsLED Namespace = iota + 1
	NsTimer
	NsNow
	NsNext
	NsWarn
	NsConf
	NsCmd
	NsGet
	NsClock
)

func (n Namespace) String() string {
	switch n {
	case NsLED:
		return "LED"
	case NsTimer:
		return "TIMER"
	case NsNow:
		return "NOW"
	case NsNext:
		return "NEXT"
	case NsWarn:
		return "WARN"
	case NsConf:
		return "CONF"
	case NsCmd:
		return "CMD"
	case NsGet:
		return "GET"
	case NsClock:
		return "CLOCK"
	default:
		return "UNKNOWN"
	}
}

// IsText reports whether the namespace carries a free text value.
func (n Namespace) IsText() bool {
	return n == NsNow || n == NsNext || n == NsWarn
}

// Indexed reports whether the namespace is numbered (LED1, TIMER2).
func (n Namespace) Indexed() bool {
	return n == NsLED || n == NsTimer
}

// LED verbs.
const (
	VerbOn    = "ON"
	VerbOff   = "OFF"
	VerbLabel = "LABEL"
)

// Timer verbs.
const (
	VerbStart = "START"
	VerbStop  = "STOP"
	VerbReset = "RESET"
	VerbSet   = "SET"
	VerbMode  = "MODE"
)

// System verbs.
const (
	VerbReboot   = "REBOOT"
	VerbShutdown = "SHUTDOWN"
	VerbQuit     = "QUIT"
	VerbRestart  = "RESTART"
)

// Clock verbs, internal only.
const (
	VerbSynced   = "SYNCED"
	VerbUnsynced = "UNSYNCED"
)

// Command is one parsed message. It lives until the dispatcher has applied it.
type Command struct {
	Namespace Namespace
	// Index is the slot/timer number for indexed namespaces, 1-based.
	Index int
	// Key is the verb for keyword namespaces (upper case), the section for
	// CONF and the queried namespace for GET. Empty for text namespaces.
	Key string
	// Subkey is the setting name for CONF and the section, or section:key,
	// for GET:CONF.
	Subkey   string
	Value    string
	HasValue bool

	Source     Source
	ReceivedAt time.Time
	Raw        string
}

// Target is the namespace token as it appears on the wire, e.g. "LED1".
func (c Command) Target() string {
	if c.Namespace.Indexed() {
		return fmt.Sprintf("%s%d", c.Namespace, c.Index)
	}
	return c.Namespace.String()
}

// String renders the command back into the wire grammar.
func (c Command) String() string {
	s := c.Target() + ":"
	if c.Namespace.IsText() {
		return s + c.Value
	}
	s += c.Key
	if c.Subkey != "" {
		s += ":" + c.Subkey
	}
	if c.HasValue {
		s += "=" + c.Value
	}
	return s
}

// Internal builds a command that bypasses the wire parser. It is used by
// in-process producers that already hold typed values.
func Internal(ns Namespace, index int, key, value string, hasValue bool) Command {
	return Command{
		Namespace:  ns,
		Index:      index,
		Key:        key,
		Value:      value,
		HasValue:   hasValue,
		Source:     SourceInternal,
		ReceivedAt: time.Now(),
	}
}
