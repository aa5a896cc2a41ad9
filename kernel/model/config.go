package model

import (
	"fmt"
	"time"
)

const (
	DefaultTick             = time.Second
	DefaultPollInterval     = 10 * time.Second
	DefaultPendingPoll      = 5 * time.Second
	DefaultStatusTimeout    = 3 * time.Second
	DefaultEndpointTimeout  = 5 * time.Second
	DefaultStartDeadline    = 30 * time.Second
	DefaultStopDeadline     = 60 * time.Second
	DefaultUnreachableGrace = 10 * time.Second
	DefaultStatePath        = "$.state"
	DefaultListen           = ":8080"
	DefaultAgentListen      = ":8002"
	DefaultRequestTimeout   = 30 * time.Second
)

// Duration is a time.Duration that reads "30s" style strings from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration '%s': %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Or returns d, or def when d is unset.
func (d Duration) Or(def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}

type Config struct {
	Controller ControllerConfig  `yaml:"controller"`
	Api        ApiConfig         `yaml:"api"`
	Influx     *InfluxConfig     `yaml:"influx,omitempty"`
	Resources  []*ResourceConfig `yaml:"resources"`
}

type ControllerConfig struct {
	Tick             Duration `yaml:"tick,omitempty"`
	PollInterval     Duration `yaml:"pollInterval,omitempty"`
	UnreachableGrace Duration `yaml:"unreachableGrace,omitempty"`
	Workers          int      `yaml:"workers,omitempty"`
	StateFile        string   `yaml:"stateFile,omitempty"`
}

type ApiConfig struct {
	Listen string `yaml:"listen,omitempty"`
}

type InfluxConfig struct {
	Url    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type ResourceConfig struct {
	Id               string                             `yaml:"id"`
	Kind             ResourceKind                       `yaml:"kind"`
	Requires         string                             `yaml:"requires,omitempty"`
	PollInterval     Duration                           `yaml:"pollInterval,omitempty"`
	UnreachableGrace Duration                           `yaml:"unreachableGrace,omitempty"`
	Status           StatusConfig                       `yaml:"status"`
	Operations       map[OperationKind]*OperationConfig `yaml:"operations"`
}

type StatusConfig struct {
	Url       string           `yaml:"url"`
	StatePath string           `yaml:"statePath,omitempty"`
	Timeout   Duration         `yaml:"timeout,omitempty"`
	StateMap  map[string]State `yaml:"stateMap,omitempty"`
}

type OperationConfig struct {
	Deadline     Duration    `yaml:"deadline,omitempty"`
	PollInterval Duration    `yaml:"pollInterval,omitempty"`
	Endpoints    []*Endpoint `yaml:"endpoints"`
}

func (c *Config) Resource(id string) (*ResourceConfig, bool) {
	for _, r := range c.Resources {
		if r.Id == id {
			return r, true
		}
	}
	return nil, false
}

// Operation returns the configuration for kind, or nil when the resource does not support it.
func (r *ResourceConfig) Operation(kind OperationKind) *OperationConfig {
	if r.Operations == nil {
		return nil
	}
	return r.Operations[kind]
}

// AgentConfig configures the host-side agent serving status and command endpoints.
type AgentConfig struct {
	Listen          string                `yaml:"listen,omitempty"`
	ShutdownCommand []string              `yaml:"shutdownCommand,omitempty"`
	Wake            *WakeConfig           `yaml:"wake,omitempty"`
	Services        []*AgentServiceConfig `yaml:"services,omitempty"`
}

type WakeConfig struct {
	Mac       string `yaml:"mac"`
	Broadcast string `yaml:"broadcast,omitempty"`
}

type AgentServiceConfig struct {
	Name   string   `yaml:"name"`
	Start  []string `yaml:"start"`
	Stop   []string `yaml:"stop"`
	Status []string `yaml:"status"`
}
