package artnet

import (
	"encoding/binary"

	"github.com/Haba1234/go-artnet"

	"onairsync/internal/state"
)

const (
	// ChannelOn is the DMX level of an enabled LED.
	ChannelOn uint8 = 255
	// ChannelOff is the DMX level of a disabled LED.
	ChannelOff uint8 = 0
)

// Universe wraps the 512 byte array for convenience.
type Universe [512]byte

// ChannelValue is one DMX channel (1-512) and its value.
type ChannelValue struct {
	Channel int
	Value   uint8
}

// tallyValues maps LED slots onto consecutive channels starting at first.
// Slots that fall past channel 512 are dropped.
func tallyValues(leds []state.LED, first int) []ChannelValue {
	out := make([]ChannelValue, 0, len(leds))
	for i, led := range leds {
		ch := first + i
		if ch < 1 || ch > len(Universe{}) {
			continue
		}
		v := ChannelOff
		if led.Enabled {
			v = ChannelOn
		}
		out = append(out, ChannelValue{Channel: ch, Value: v})
	}
	return out
}

// tallyFrame renders the LED slots into a full universe.
func tallyFrame(leds []state.LED, first int) Universe {
	var u Universe
	for _, cv := range tallyValues(leds, first) {
		u[cv.Channel-1] = cv.Value
	}
	return u
}

// universeToAddress converts a dmx universe to art-net address
// universe: старший байт - SubUni, младший байт - Net.
func universeToAddress(universe uint16) artnet.Address {
	v := make([]uint8, 2)
	binary.BigEndian.PutUint16(v, universe)

	return artnet.Address{
		Net:    v[0],
		SubUni: v[1],
	}
}

// NodeInfo summarizes one discovered art-net node.
type NodeInfo struct {
	IP      string
	Name    string
	Outputs []string
}
