package conf

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Companion describes an external daemon watchd can forward payloads to and,
// when privileged, spawn before watching its socket file.
type Companion struct {
	Name     string `yaml:"name"`
	Socket   string `yaml:"socket"`
	Exec     string `yaml:"exec"`
	ProcName string `yaml:"proc_name"`
}

// Settings is the daemon-level configuration loaded from watchd.yaml.
type Settings struct {
	Watchtab     string        `yaml:"watchtab"`
	PidFile      string        `yaml:"pid_file"`
	LogFile      string        `yaml:"log_file"`
	SocketPath   string        `yaml:"socket_path"`
	DatabasePath string        `yaml:"database_path"` // empty disables history
	Debug        bool          `yaml:"debug"`
	GraceSleep   time.Duration `yaml:"grace_sleep"` // replace-dance tolerance
	GraceRetries int           `yaml:"grace_retries"`

	// AllowSpawn overrides the euid-based privilege check for companion
	// spawning. Nil means "spawn only when running as root".
	AllowSpawn *bool `yaml:"allow_spawn,omitempty"`

	Companions []Companion `yaml:"companions"`
}

// DefaultSettings provides default configuration values.
var DefaultSettings = Settings{
	Watchtab:     "/etc/watchd/watchtab",
	PidFile:      "/var/run/watchd/watchd.pid",
	LogFile:      "/var/log/watchd/watchd.log",
	SocketPath:   "/var/run/watchd/watchd.sock",
	DatabasePath: "/var/lib/watchd/history.db",
	GraceSleep:   100 * time.Millisecond,
	GraceRetries: 3,
}

// LoadSettings reads the YAML settings file, filling unset fields from the
// defaults. A missing file yields the defaults unchanged.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings
	//nolint:gosec // G304: settings path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	s.applyDefaults()
	return s, nil
}

func (s *Settings) applyDefaults() {
	if s.Watchtab == "" {
		s.Watchtab = DefaultSettings.Watchtab
	}
	if s.PidFile == "" {
		s.PidFile = DefaultSettings.PidFile
	}
	if s.LogFile == "" {
		s.LogFile = DefaultSettings.LogFile
	}
	if s.SocketPath == "" {
		s.SocketPath = DefaultSettings.SocketPath
	}
	if s.GraceSleep <= 0 {
		s.GraceSleep = DefaultSettings.GraceSleep
	}
	if s.GraceRetries <= 0 {
		s.GraceRetries = DefaultSettings.GraceRetries
	}
}

// CanSpawn reports whether this process may spawn companion daemons.
func (s *Settings) CanSpawn() bool {
	if s.AllowSpawn != nil {
		return *s.AllowSpawn
	}
	return os.Geteuid() == 0
}
