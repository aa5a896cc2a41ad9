package loader

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/openziti/hostctl/kernel/model"
	"github.com/openziti/hostctl/kernel/remote"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// InfluxTokenEnv overrides influx.token so the secret can stay out of the file.
const InfluxTokenEnv = "HOSTCTL_INFLUX_TOKEN"

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

type ValidationIssue struct {
	Path    string
	Message string
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

type ValidationResult struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) errorf(path, format string, args ...interface{}) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) warnf(path, format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Err folds the errors into a single error, or nil when valid.
func (r *ValidationResult) Err() error {
	if r.IsValid() {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.String())
	}
	return errors.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func LoadConfig(path string) (*model.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read config '%s'", path)
	}
	cfg, err := LoadConfigBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config '%s'", path)
	}
	return cfg, nil
}

// LoadConfigBytes parses and validates a controller configuration.
func LoadConfigBytes(data []byte) (*model.Config, error) {
	cfg, result, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	if cfg.Api.Listen == "" {
		cfg.Api.Listen = model.DefaultListen
	}
	if cfg.Influx != nil {
		if token := os.Getenv(InfluxTokenEnv); token != "" {
			cfg.Influx.Token = token
		}
	}
	return cfg, nil
}

// ValidateConfigBytes reports every problem with a configuration instead of stopping at the first.
// A non-nil error means the document could not be parsed at all.
func ValidateConfigBytes(data []byte) (*ValidationResult, error) {
	_, result, err := parse(data)
	return result, err
}

func parse(data []byte) (*model.Config, *ValidationResult, error) {
	cfg := &model.Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, nil, errors.Wrap(err, "unable to parse config")
	}
	return cfg, validate(cfg), nil
}

func validate(cfg *model.Config) *ValidationResult {
	result := &ValidationResult{}

	if cfg.Controller.Workers < 0 {
		result.errorf("controller.workers", "must not be negative")
	}
	if cfg.Influx != nil {
		for name, value := range map[string]string{"url": cfg.Influx.Url, "org": cfg.Influx.Org, "bucket": cfg.Influx.Bucket} {
			if value == "" {
				result.errorf("influx."+name, "is required when influx is configured")
			}
		}
	}

	if len(cfg.Resources) == 0 {
		result.warnf("resources", "no resources configured")
	}

	kinds := make(map[string]model.ResourceKind)
	for i, r := range cfg.Resources {
		path := fmt.Sprintf("resources[%d]", i)
		if r == nil {
			result.errorf(path, "empty resource")
			continue
		}
		switch {
		case r.Id == "":
			result.errorf(path+".id", "is required")
		case !idPattern.MatchString(r.Id):
			result.errorf(path+".id", "'%s' must start with a lower-case letter and contain only [a-z0-9_-]", r.Id)
		}
		if _, dup := kinds[r.Id]; dup {
			result.errorf(path+".id", "duplicate resource id '%s'", r.Id)
		}
		kinds[r.Id] = r.Kind
		validateResource(result, path, r)
	}

	for i, r := range cfg.Resources {
		if r == nil || r.Requires == "" {
			continue
		}
		path := fmt.Sprintf("resources[%d].requires", i)
		switch kind, found := kinds[r.Requires]; {
		case !found:
			result.errorf(path, "unknown resource '%s'", r.Requires)
		case kind != model.KindPower:
			result.errorf(path, "'%s' is not a power resource", r.Requires)
		case r.Kind != model.KindService:
			result.errorf(path, "only service resources may declare a dependency")
		}
	}
	return result
}

func validateResource(result *ValidationResult, path string, r *model.ResourceConfig) {
	if !r.Kind.Valid() {
		result.errorf(path+".kind", "unknown kind '%s', expected power or service", r.Kind)
		return
	}

	if r.Status.Url == "" {
		result.errorf(path+".status.url", "is required")
	} else if u, err := url.Parse(r.Status.Url); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		result.errorf(path+".status.url", "'%s' is not an http(s) url", r.Status.Url)
	}
	for raw, state := range r.Status.StateMap {
		if state == model.StateUnknown || !state.ValidFor(r.Kind) {
			result.errorf(path+".status.stateMap."+raw, "'%s' is not a %s state", state, r.Kind)
		}
	}

	if len(r.Operations) == 0 {
		result.warnf(path+".operations", "no operations configured, resource is observed only")
	}
	for kind, op := range r.Operations {
		opPath := fmt.Sprintf("%s.operations.%s", path, kind)
		if !kind.Valid() {
			result.errorf(opPath, "unknown operation")
			continue
		}
		if kind.Edge().Resource != r.Kind {
			result.errorf(opPath, "does not apply to %s resources", r.Kind)
			continue
		}
		if op == nil || len(op.Endpoints) == 0 {
			result.errorf(opPath+".endpoints", "at least one endpoint is required")
			continue
		}
		if op.Deadline > 0 && op.PollInterval > 0 && op.PollInterval >= op.Deadline {
			result.warnf(opPath+".pollInterval", "%v is not shorter than the deadline %v", op.PollInterval.Std(), op.Deadline.Std())
		}
		for j, ep := range op.Endpoints {
			validateEndpoint(result, fmt.Sprintf("%s.endpoints[%d]", opPath, j), ep)
		}
		if worst := remote.WorstCaseDispatch(op.Endpoints); worst > model.DefaultRequestTimeout {
			result.warnf(opPath+".endpoints", "dispatch can take up to %v, longer than the %v client request timeout; "+
				"clients may report a failure for an accepted operation", worst, model.DefaultRequestTimeout)
		}
	}
}

func validateEndpoint(result *ValidationResult, path string, ep *model.Endpoint) {
	if ep == nil || ep.Url == "" {
		result.errorf(path+".url", "is required")
		return
	}
	scheme, err := remote.SchemeOf(ep.Url)
	if err != nil {
		result.errorf(path+".url", "%v", err)
		return
	}
	if _, err := remote.GetTransport(scheme); err != nil {
		result.errorf(path+".url", "unsupported scheme '%s'", scheme)
		return
	}
	if ep.Retries < 0 {
		result.errorf(path+".retries", "must not be negative")
	}
	if ep.Role != "" && ep.Role != model.RolePrimary && ep.Role != model.RoleFallback {
		result.errorf(path+".role", "unknown role '%s'", ep.Role)
	}
	if scheme == "ssh" && ep.Command == "" {
		result.errorf(path+".command", "is required for ssh endpoints")
	}
}

// LoadAgentConfig reads the host agent's configuration.
func LoadAgentConfig(path string) (*model.AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read agent config '%s'", path)
	}
	return LoadAgentConfigBytes(data)
}

func LoadAgentConfigBytes(data []byte) (*model.AgentConfig, error) {
	cfg := &model.AgentConfig{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse agent config")
	}
	if cfg.Listen == "" {
		cfg.Listen = model.DefaultAgentListen
	}
	if cfg.Wake != nil {
		if _, err := remote.MagicPacket(cfg.Wake.Mac); err != nil {
			return nil, errors.Wrap(err, "wake.mac")
		}
	}
	seen := make(map[string]bool)
	for i, svc := range cfg.Services {
		if svc == nil || svc.Name == "" {
			return nil, errors.Errorf("services[%d].name is required", i)
		}
		if seen[svc.Name] {
			return nil, errors.Errorf("services[%d]: duplicate service '%s'", i, svc.Name)
		}
		seen[svc.Name] = true
		if len(svc.Status) == 0 {
			return nil, errors.Errorf("services[%d].status command is required", i)
		}
	}
	return cfg, nil
}
