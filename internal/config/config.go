package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config структура конфигурации.
type Config struct {
	Logger LogConf    `toml:"logger" yaml:"logger"` // Logger - конфигурация регистратора.
	Source SourceConf `toml:"source" yaml:"source"` // Source - параметры источника sACN.
	Timing TimingConf `toml:"timing" yaml:"timing"` // Timing - интервалы отправки и длительности тестов.
	ArtNet ArtNetConf `toml:"artnet" yaml:"artnet"` // ArtNet - зеркалирование в Art-Net.
	MQTT   MQTTConf   `toml:"mqtt" yaml:"mqtt"`     // MQTT - удалённый ввод команд.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level" yaml:"log-level"` // Level - уровень логирования.
	Format string `toml:"format" yaml:"format"`       // Format - text или json.
	File   string `toml:"file" yaml:"file"`           // File - файл журнала, пусто - stdout.
}

// SourceConf структура конфигурации.
type SourceConf struct {
	Name      string `toml:"name" yaml:"name"`           // Name - имя источника в пакетах.
	CID       string `toml:"cid" yaml:"cid"`             // CID - UUID источника, пусто - случайный.
	Bind      string `toml:"bind" yaml:"bind"`           // Bind - локальный адрес сокета.
	Interface string `toml:"interface" yaml:"interface"` // Interface - интерфейс для multicast.
	TTL       int    `toml:"ttl" yaml:"ttl"`             // TTL - multicast TTL.
	Loopback  bool   `toml:"loopback" yaml:"loopback"`   // Loopback - получать свои multicast пакеты.
	Priority  uint8  `toml:"priority" yaml:"priority"`   // Priority - приоритет данных (0-200).
	Broadcast bool   `toml:"broadcast" yaml:"broadcast"` // Broadcast - разрешить отправку на broadcast адрес.
}

// TimingConf структура конфигурации.
type TimingConf struct {
	SendInterval    Duration `toml:"send_interval" yaml:"send_interval"`       // SendInterval - минимальный интервал между пакетами.
	KeepAlive       Duration `toml:"keep_alive" yaml:"keep_alive"`             // KeepAlive - повтор удерживаемого шага.
	PresetDuration  Duration `toml:"preset_duration" yaml:"preset_duration"`   // PresetDuration - длительность пресетов 1-7.
	AcceptanceDwell Duration `toml:"acceptance_dwell" yaml:"acceptance_dwell"` // AcceptanceDwell - длительность шага приёмочного теста.
}

// ArtNetConf структура конфигурации.
type ArtNetConf struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"` // Enabled - включить зеркалирование.
	CIDR    string `toml:"cidr" yaml:"cidr"`       // CIDR - сеть, в которой ищется интерфейс Art-Net.
	Name    string `toml:"name" yaml:"name"`       // Name - имя контроллера, пусто - hostname.
	MaxFPS  int    `toml:"max_fps" yaml:"max_fps"` // MaxFPS - ограничение частоты контроллера.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled"`             // Enabled - принимать команды по MQTT.
	ClientID     string `toml:"clientID" yaml:"clientID"`           // ClientID - имя клиента.
	Host         string `toml:"server" yaml:"server"`               // Host - адрес MQTT сервера.
	Port         string `toml:"port" yaml:"port"`                   // Port - порт MQTT сервера.
	User         string `toml:"user" yaml:"user"`                   // User - логин для подключения к MQTT серверу.
	Password     string `toml:"password" yaml:"password"`           // Password - пароль для подключения к MQTT серверу.
	Qos          byte   `toml:"qos" yaml:"qos"`                     // Qos - качество обслуживания.
	CommandTopic string `toml:"command_topic" yaml:"command_topic"` // CommandTopic - топик входящих команд.
	StatusTopic  string `toml:"status_topic" yaml:"status_topic"`   // StatusTopic - топик результатов команд.
}

// Duration декодируется из строки вида "33ms" или "20s".
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

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info", Format: "text"},
		Source: SourceConf{
			Name:     "sacngen",
			TTL:      8,
			Loopback: true,
			Priority: 100,
		},
		Timing: TimingConf{
			SendInterval:    Duration{33 * time.Millisecond},
			KeepAlive:       Duration{time.Second},
			PresetDuration:  Duration{20 * time.Second},
			AcceptanceDwell: Duration{5 * time.Second},
		},
		ArtNet: ArtNetConf{
			CIDR:   "2.0.0.0/8",
			MaxFPS: 44,
		},
		MQTT: MQTTConf{
			ClientID:     "sacngen",
			Host:         "localhost",
			Port:         "1883",
			CommandTopic: "sacngen/command",
			StatusTopic:  "sacngen/status",
		},
	}
}

// NewConfig конструктор. Формат выбирается по расширению файла.
// Если файл не существует и required == false, возвращаются значения по умолчанию.
func NewConfig(path string, required bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return &cfg, cfg.Validate()
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !required {
		return &cfg, cfg.Validate()
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return &cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return &cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return &cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return &cfg, cfg.Validate()
}

// Validate проверяет значения конфигурации.
func (c *Config) Validate() error {
	if c.Timing.SendInterval.Duration <= 0 {
		return fmt.Errorf("timing.send_interval must be positive, got %v", c.Timing.SendInterval)
	}
	if c.Timing.KeepAlive.Duration <= 0 {
		return fmt.Errorf("timing.keep_alive must be positive, got %v", c.Timing.KeepAlive)
	}
	if c.Timing.PresetDuration.Duration <= 0 {
		return fmt.Errorf("timing.preset_duration must be positive, got %v", c.Timing.PresetDuration)
	}
	if c.Timing.AcceptanceDwell.Duration < 0 {
		return fmt.Errorf("timing.acceptance_dwell must not be negative, got %v", c.Timing.AcceptanceDwell)
	}
	if c.Source.Priority > 200 {
		return fmt.Errorf("source.priority must be 0..200, got %d", c.Source.Priority)
	}
	if c.Source.TTL < 0 || c.Source.TTL > 255 {
		return fmt.Errorf("source.ttl must be 0..255, got %d", c.Source.TTL)
	}
	if len(c.Source.Name) > 63 {
		return fmt.Errorf("source.name longer than 63 bytes")
	}
	if c.Source.Bind != "" && net.ParseIP(c.Source.Bind) == nil {
		return fmt.Errorf("source.bind is not an IP address: %q", c.Source.Bind)
	}
	if c.ArtNet.Enabled {
		if _, _, err := net.ParseCIDR(c.ArtNet.CIDR); err != nil {
			return fmt.Errorf("artnet.cidr: %w", err)
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Host == "" || c.MQTT.CommandTopic == "" {
			return fmt.Errorf("mqtt.server and mqtt.command_topic are required when mqtt is enabled")
		}
		if c.MQTT.Qos > 2 {
			return fmt.Errorf("mqtt.qos must be 0..2, got %d", c.MQTT.Qos)
		}
	}
	return nil
}
