package clientmqtt

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"onairsync/internal/command"
	"onairsync/internal/config"
	"onairsync/internal/dispatch"
	"onairsync/internal/state"
)

// Publisher отправляет одно сообщение брокеру.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

// Dispatcher is what the MQTT side needs from the core.
type Dispatcher interface {
	Submit(ctx context.Context, raw []byte, src command.Source) (dispatch.Result, error)
	Store() *state.Store
}

// Message is one outbound publication.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Topics строит имена топиков устройства.
type Topics struct {
	Prefix    string // onairscreen/<node-id>
	Discovery string // homeassistant
	NodeID    string
}

var nodeIDRe = regexp.MustCompile(`[^a-z0-9_-]+`)

// NewTopics resolves node id and prefixes from the config. An empty node id
// falls back to the hostname.
func NewTopics(cfg config.MQTTConf) Topics {
	node := cfg.NodeID
	if node == "" {
		node, _ = os.Hostname()
	}
	node = nodeIDRe.ReplaceAllString(strings.ToLower(node), "_")
	if node == "" {
		node = "onairscreen"
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "onairscreen/" + node
	}
	disc := strings.TrimSuffix(cfg.DiscoveryPrefix, "/")
	if disc == "" {
		disc = "homeassistant"
	}
	return Topics{Prefix: prefix, Discovery: disc, NodeID: node}
}

func (t Topics) Command() string { return t.Prefix + "/cmd" }
func (t Topics) SetFilter() string { return t.Prefix + "/+/set" }
func (t Topics) State() string { return t.Prefix + "/state" }
func (t Topics) Status() string { return t.Prefix + "/status" }
func (t Topics) EntitySet(e string) string { return t.Prefix + "/" + e + "/set" }
func (t Topics) EntityState(e string) string { return t.Prefix + "/" + e + "/state" }
func (t Topics) EntityAttributes(e string) string { return t.Prefix + "/" + e + "/attributes" }

// Config is the discovery config topic of one entity.
func (t Topics) Config(component, object string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", t.Discovery, component, t.NodeID, object)
}

// entityFromSetTopic extracts <entity> from <prefix>/<entity>/set.
func (t Topics) entityFromSetTopic(topic string) (string, bool) {
	rest := strings.TrimPrefix(topic, t.Prefix+"/")
	if rest == topic || !strings.HasSuffix(rest, "/set") {
		return "", false
	}
	entity := strings.TrimSuffix(rest, "/set")
	if entity == "" || strings.Contains(entity, "/") {
		return "", false
	}
	return entity, true
}

// Entity names.
func ledEntity(n int) string { return fmt.Sprintf("led%d", n) }
func timerEntity(n int) string { return fmt.Sprintf("timer%d", n) }

var textEntities = []string{state.FieldNow, state.FieldNext, state.FieldWarn}

// entityCommand converts a payload published on <entity>/set into a command
// line: led1 + ON -> LED1:ON, now + text -> NOW:text.
func entityCommand(entity, payload string) (string, error) {
	payload = strings.TrimRight(payload, "\r\n")
	lower := strings.ToLower(entity)
	for _, f := range textEntities {
		if lower == strings.ToLower(f) {
			return f + ":" + payload, nil
		}
	}
	var n int
	switch {
	case strings.HasPrefix(lower, "led"):
		if _, err := fmt.Sscanf(lower, "led%d", &n); err != nil || ledEntity(n) != lower {
			return "", fmt.Errorf("unknown entity %q", entity)
		}
		return fmt.Sprintf("LED%d:%s", n, payload), nil
	case strings.HasPrefix(lower, "timer"):
		if _, err := fmt.Sscanf(lower, "timer%d", &n); err != nil || timerEntity(n) != lower {
			return "", fmt.Errorf("unknown entity %q", entity)
		}
		return fmt.Sprintf("TIMER%d:%s", n, payload), nil
	}
	return "", fmt.Errorf("unknown entity %q", entity)
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}
