package clientmqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"onairsync/internal/state"
)

// Device describes the screen in discovery documents.
type Device struct {
	Name    string
	Version string
}

func (t Topics) deviceInfo(d Device) map[string]interface{} {
	info := map[string]interface{}{
		"identifiers":  []string{"onairscreen_" + t.NodeID},
		"name":         d.Name,
		"manufacturer": "OnAirScreen",
		"model":        "OnAirScreen",
	}
	if d.Version != "" {
		info["sw_version"] = d.Version
	}
	return info
}

func (t Topics) discoveryBase(d Device, name, object, commandTopic, stateTopic string) map[string]interface{} {
	payload := map[string]interface{}{
		"name":               name,
		"unique_id":          fmt.Sprintf("onairscreen_%s_%s", t.NodeID, object),
		"availability_topic": t.Status(),
		"device":             t.deviceInfo(d),
	}
	if commandTopic != "" {
		payload["command_topic"] = commandTopic
	}
	if stateTopic != "" {
		payload["state_topic"] = stateTopic
	}
	return payload
}

func ledName(n int, label string) string {
	if label == "" {
		return fmt.Sprintf("LED %d", n)
	}
	return fmt.Sprintf("LED %d (%s)", n, label)
}

func timerName(n int, label string) string {
	if label == "" {
		return fmt.Sprintf("Timer %d", n)
	}
	return fmt.Sprintf("Timer %d (%s)", n, label)
}

type discoveryDoc struct {
	topic   string
	payload map[string]interface{}
}

// discoveryMessages builds the retained config documents for every entity of st.
func discoveryMessages(t Topics, d Device, st *state.State) ([]Message, error) {
	var docs []discoveryDoc
	add := func(topic string, payload map[string]interface{}) {
		docs = append(docs, discoveryDoc{topic: topic, payload: payload})
	}

	for i, led := range st.LEDs {
		n := i + 1
		e := ledEntity(n)
		p := t.discoveryBase(d, ledName(n, led.Label), e, t.EntitySet(e), t.EntityState(e))
		p["payload_on"] = "ON"
		p["payload_off"] = "OFF"
		p["json_attributes_topic"] = t.EntityAttributes(e)
		p["icon"] = "mdi:alarm-light"
		add(t.Config("switch", e), p)
	}

	for i, id := range st.TimerIDs() {
		n := i + 1
		e := timerEntity(n)
		label := st.Timers[id].Label
		p := t.discoveryBase(d, timerName(n, label), e, t.EntitySet(e), t.EntityState(e))
		p["payload_on"] = "START"
		p["payload_off"] = "STOP"
		p["state_on"] = "ON"
		p["state_off"] = "OFF"
		p["json_attributes_topic"] = t.EntityAttributes(e)
		p["icon"] = "mdi:timer-outline"
		add(t.Config("switch", e), p)

		reset := t.discoveryBase(d, timerName(n, label)+" reset", e+"_reset", t.EntitySet(e), "")
		reset["payload_press"] = "RESET"
		reset["icon"] = "mdi:timer-refresh-outline"
		add(t.Config("button", e+"_reset"), reset)
	}

	for _, f := range textEntities {
		e := strings.ToLower(f)
		p := t.discoveryBase(d, f, e, "", t.EntityState(e))
		p["icon"] = "mdi:text"
		add(t.Config("sensor", e), p)
	}

	clock := t.discoveryBase(d, "Clock synchronized", "clock", "", t.EntityState("clock"))
	clock["payload_on"] = "ON"
	clock["payload_off"] = "OFF"
	clock["json_attributes_topic"] = t.EntityAttributes("clock")
	clock["entity_category"] = "diagnostic"
	add(t.Config("binary_sensor", "clock"), clock)

	out := make([]Message, 0, len(docs))
	for _, doc := range docs {
		b, err := json.Marshal(doc.payload)
		if err != nil {
			return nil, fmt.Errorf("marshal discovery payload for %s: %w", doc.topic, err)
		}
		out = append(out, Message{Topic: doc.topic, Payload: b, Retained: true})
	}
	return out, nil
}

// stateMessages builds the retained state topics for st as seen at now.
func stateMessages(t Topics, st *state.State, now time.Time) ([]Message, error) {
	view := st.View(now)
	var out []Message
	add := func(topic string, payload []byte) {
		out = append(out, Message{Topic: topic, Payload: payload, Retained: true})
	}
	addJSON := func(topic string, v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", topic, err)
		}
		add(topic, b)
		return nil
	}

	if err := addJSON(t.State(), view); err != nil {
		return nil, err
	}
	for _, led := range view.LEDs {
		e := ledEntity(led.Slot)
		add(t.EntityState(e), []byte(onOff(led.Enabled)))
		if err := addJSON(t.EntityAttributes(e), led); err != nil {
			return nil, err
		}
	}
	for i, id := range st.TimerIDs() {
		e := timerEntity(i + 1)
		tv := view.Timers[id]
		add(t.EntityState(e), []byte(onOff(tv.Running)))
		if err := addJSON(t.EntityAttributes(e), tv); err != nil {
			return nil, err
		}
	}
	for _, f := range textEntities {
		add(t.EntityState(strings.ToLower(f)), []byte(view.Text[f]))
	}
	add(t.EntityState("clock"), []byte(onOff(view.Clock.Synchronized)))
	if err := addJSON(t.EntityAttributes("clock"), view.Clock); err != nil {
		return nil, err
	}
	return out, nil
}
