package model

// Role marks an endpoint's place in an operation's endpoint chain.
type Role string

const (
	RolePrimary  Role = "primary"
	RoleFallback Role = "fallback"
)

// Endpoint is one remote target for an operation. The URL scheme selects the transport.
type Endpoint struct {
	Url     string   `yaml:"url" json:"url"`
	Role    Role     `yaml:"role,omitempty" json:"role"`
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout"`
	Retries int      `yaml:"retries,omitempty" json:"retries,omitempty"`

	// http(s) only
	Method string `yaml:"method,omitempty" json:"method,omitempty"`

	// ssh only
	Command    string `yaml:"command,omitempty" json:"command,omitempty"`
	Identity   string `yaml:"identity,omitempty" json:"identity,omitempty"`
	KnownHosts string `yaml:"knownHosts,omitempty" json:"knownHosts,omitempty"`
}
