package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config структура конфигурации.
type Config struct {
	Logger   LogConf      `toml:"logger"`   // Logger - конфигурация регистратора.
	Layout   LayoutConf   `toml:"layout"`   // Layout - количество LED и таймеров.
	UDP      UDPConf      `toml:"udp"`      // UDP - приём команд по UDP.
	HTTP     HTTPConf     `toml:"http"`     // HTTP - REST и WebSocket.
	MQTT     MQTTConf     `toml:"mqtt"`     // MQTT - конфигурация MQTT клиента.
	Settings SettingsConf `toml:"settings"` // Settings - файл настроек экрана.
	Clock    ClockConf    `toml:"clock"`    // Clock - проверка синхронизации времени.
	ArtNet   ArtNetConf   `toml:"artnet"`   // ArtNet - вывод tally в DMX.
	System   SystemConf   `toml:"system"`   // System - команды перезагрузки и выключения.
	Restart  RestartConf  `toml:"restart"`  // Restart - пауза между перезапусками UDP и HTTP слушателей.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level"` // Level - уровень логирования.
	Format string `toml:"format"`    // Format - text или json.
}

// LayoutConf фиксирует число слотов на всё время работы процесса.
type LayoutConf struct {
	LEDs   int `toml:"leds"`
	Timers int `toml:"timers"`
}

// UDPConf структура конфигурации.
type UDPConf struct {
	Enabled        bool   `toml:"enabled"`
	Port           int    `toml:"port"`            // Port - порт для unicast и multicast.
	MulticastGroup string `toml:"multicast-group"` // MulticastGroup - пустая строка отключает multicast.
	Interface      string `toml:"interface"`       // Interface - имя интерфейса для multicast, пусто = все.
}

// HTTPConf структура конфигурации.
type HTTPConf struct {
	Enabled         bool     `toml:"enabled"`
	Listen          string   `toml:"listen"`
	ShutdownTimeout Duration `toml:"shutdown-timeout"`
	Metrics         bool     `toml:"metrics"` // Metrics - отдавать /metrics.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	Enabled  bool   `toml:"enabled"`
	ClientID string `toml:"clientID"` // ClientID - имя клиента, пусто = сгенерировать.
	Schema   string `toml:"schema"`   // Schema - тип подключения.
	Host     string `toml:"server"`   // Host - адрес MQTT сервера.
	Port     string `toml:"port"`     // Port - порт MQTT сервера.
	User     string `toml:"user"`     // User - логин для подключения к MQTT серверу.
	Password string `toml:"password"` // Password - пароль для подключения к MQTT серверу.
	Qos      byte   `toml:"qos"`      // Qos - качество обслуживания.

	NodeID          string   `toml:"node-id"`          // NodeID - идентификатор устройства, пусто = hostname.
	DeviceName      string   `toml:"device-name"`      // DeviceName - имя устройства в Home Assistant.
	TopicPrefix     string   `toml:"topic-prefix"`     // TopicPrefix - пусто = onairscreen/<node-id>.
	Discovery       bool     `toml:"discovery"`        // Discovery - публиковать discovery.
	DiscoveryPrefix string   `toml:"discovery-prefix"` // DiscoveryPrefix - префикс discovery.
	RetryInterval   Duration `toml:"retry-interval"`   // RetryInterval - пауза между попытками подключения.
}

// SettingsConf структура конфигурации.
type SettingsConf struct {
	Path     string   `toml:"path"`      // Path - файл настроек экрана (TOML).
	SaveWait Duration `toml:"save-wait"` // SaveWait - пауза тишины перед записью.
	MaxWait  Duration `toml:"max-wait"`  // MaxWait - максимальная задержка записи.
	Watch    bool     `toml:"watch"`     // Watch - перечитывать файл при внешних изменениях.
}

// ClockConf структура конфигурации.
type ClockConf struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
	MaxError Duration `toml:"max-error"` // MaxError - порог ошибки часов, выше = не синхронизировано.
}

// ArtNetConf структура конфигурации.
type ArtNetConf struct {
	Enabled  bool   `toml:"enabled"`
	Network  string `toml:"network"`  // Network - CIDR сети art-net.
	Universe uint16 `toml:"universe"` // Universe: старший байт - SubUni, младший байт - Net.
	Channel  int    `toml:"channel"`  // Channel - первый DMX канал (1-512) для LED1.
}

// SystemConf структура конфигурации.
type SystemConf struct {
	Reboot   []string `toml:"reboot"`
	Shutdown []string `toml:"shutdown"`
}

// RestartConf структура конфигурации.
type RestartConf struct {
	Mode    string   `toml:"mode"`    // Mode - fixed, linear или exponential.
	Initial Duration `toml:"initial"` // Initial - первая пауза.
	Max     Duration `toml:"max"`     // Max - предел паузы.
}

// Duration разбирает строки вида "5s", "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info", Format: "text"},
		Layout: LayoutConf{LEDs: 4, Timers: 4},
		UDP:    UDPConf{Enabled: true, Port: 3310, MulticastGroup: "239.194.0.1"},
		HTTP: HTTPConf{
			Enabled:         true,
			Listen:          ":8010",
			ShutdownTimeout: Duration{5 * time.Second},
			Metrics:         true,
		},
		MQTT: MQTTConf{
			Schema:          "tcp",
			Port:            "1883",
			Discovery:       true,
			DiscoveryPrefix: "homeassistant",
			DeviceName:      "OnAirScreen",
			RetryInterval:   Duration{5 * time.Second},
		},
		Settings: SettingsConf{
			Path:     "settings.toml",
			SaveWait: Duration{2 * time.Second},
			MaxWait:  Duration{10 * time.Second},
			Watch:    true,
		},
		Clock: ClockConf{
			Enabled:  true,
			Interval: Duration{5 * time.Minute},
			MaxError: Duration{500 * time.Millisecond},
		},
		ArtNet: ArtNetConf{Network: "192.168.6.0/24", Channel: 1},
		System: SystemConf{
			Reboot:   []string{"sudo", "reboot"},
			Shutdown: []string{"sudo", "halt"},
		},
		Restart: RestartConf{
			Mode:    "exponential",
			Initial: Duration{time.Second},
			Max:     Duration{30 * time.Second},
		},
	}
}

// NewConfig конструктор. Пустой path - только значения по умолчанию и окружение.
func NewConfig(path string) (*Config, error) {
	// default values
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return &cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ONAIR_LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	if v := os.Getenv("ONAIR_MQTT_SERVER"); v != "" {
		c.MQTT.Host = v
		c.MQTT.Enabled = true
	}
	if v := os.Getenv("ONAIR_MQTT_USER"); v != "" {
		c.MQTT.User = v
	}
	if v := os.Getenv("ONAIR_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	var errs []error
	if c.Layout.LEDs < 1 || c.Layout.LEDs > 999 {
		errs = append(errs, fmt.Errorf("layout.leds must be 1..999, got %d", c.Layout.LEDs))
	}
	if c.Layout.Timers < 1 || c.Layout.Timers > 999 {
		errs = append(errs, fmt.Errorf("layout.timers must be 1..999, got %d", c.Layout.Timers))
	}
	switch strings.ToLower(c.Logger.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format must be text or json, got %q", c.Logger.Format))
	}
	if c.UDP.Enabled {
		if c.UDP.Port < 1 || c.UDP.Port > 65535 {
			errs = append(errs, fmt.Errorf("udp.port out of range: %d", c.UDP.Port))
		}
		if g := c.UDP.MulticastGroup; g != "" {
			if ip := net.ParseIP(g); ip == nil || ip.To4() == nil || !ip.IsMulticast() {
				errs = append(errs, fmt.Errorf("udp.multicast-group is not an IPv4 multicast address: %q", g))
			}
		}
	}
	if c.HTTP.Enabled {
		if _, _, err := net.SplitHostPort(c.HTTP.Listen); err != nil {
			errs = append(errs, fmt.Errorf("http.listen: %w", err))
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			errs = append(errs, errors.New("mqtt.server is required when mqtt is enabled"))
		}
		if c.MQTT.Qos > 2 {
			errs = append(errs, fmt.Errorf("mqtt.qos must be 0..2, got %d", c.MQTT.Qos))
		}
	}
	if c.Settings.Path == "" {
		errs = append(errs, errors.New("settings.path is required"))
	}
	if c.Settings.SaveWait.Duration <= 0 || c.Settings.MaxWait.Duration < c.Settings.SaveWait.Duration {
		errs = append(errs, errors.New("settings.save-wait must be >0 and <= settings.max-wait"))
	}
	if c.Clock.Enabled && c.Clock.Interval.Duration < time.Second {
		errs = append(errs, fmt.Errorf("clock.interval too short: %s", c.Clock.Interval))
	}
	if c.ArtNet.Enabled {
		if _, _, err := net.ParseCIDR(c.ArtNet.Network); err != nil {
			errs = append(errs, fmt.Errorf("artnet.network: %w", err))
		}
		if c.ArtNet.Channel < 1 || c.ArtNet.Channel+c.Layout.LEDs-1 > 512 {
			errs = append(errs, fmt.Errorf("artnet.channel %d leaves no room for %d LEDs", c.ArtNet.Channel, c.Layout.LEDs))
		}
	}
	switch c.Restart.Mode {
	case "fixed", "linear", "exponential":
	default:
		errs = append(errs, fmt.Errorf("restart.mode must be fixed, linear or exponential, got %q", c.Restart.Mode))
	}
	if c.Restart.Initial.Duration <= 0 || c.Restart.Max.Duration < c.Restart.Initial.Duration {
		errs = append(errs, errors.New("restart.initial must be >0 and <= restart.max"))
	}
	return errors.Join(errs...)
}
