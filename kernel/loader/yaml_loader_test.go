package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openziti/hostctl/kernel/model"
)

const validConfig = `
controller:
  tick: 500ms
  unreachableGrace: 15s
  stateFile: /var/lib/hostctl/state.json

api:
  listen: 127.0.0.1:8080

resources:
  - id: gpu-host
    kind: power
    pollInterval: 10s
    status:
      url: http://192.168.8.10:8002/api/power/status
      timeout: 3s
    operations:
      power_on:
        deadline: 30s
        pollInterval: 5s
        endpoints:
          - url: http://192.168.8.2:8002/wakeup
          - url: wol://192.168.8.255:9/aa:bb:cc:dd:ee:ff
      power_off:
        deadline: 60s
        endpoints:
          - url: http://192.168.8.10:8002/api/power/shutdown
            timeout: 5s
            retries: 2
          - url: ssh://admin@192.168.8.10:22
            command: sudo shutdown -h now
            identity: /etc/hostctl/id_ed25519
            knownHosts: /etc/hostctl/known_hosts

  - id: vllm
    kind: service
    requires: gpu-host
    status:
      url: http://192.168.8.10:8002/api/services/vllm/status
      statePath: $.status
      stateMap:
        active: running
        inactive: stopped
    operations:
      service_start:
        endpoints:
          - url: http://192.168.8.10:8002/api/services/vllm/start
      service_stop:
        endpoints:
          - url: http://192.168.8.10:8002/api/services/vllm/stop
`

func TestLoadConfig_Basic(t *testing.T) {
	path := writeTempYaml(t, validConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Controller.Tick.Std() != 500*time.Millisecond {
		t.Errorf("expected tick 500ms, got %v", cfg.Controller.Tick.Std())
	}
	if cfg.Api.Listen != "127.0.0.1:8080" {
		t.Errorf("expected listen '127.0.0.1:8080', got '%s'", cfg.Api.Listen)
	}
	if len(cfg.Resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(cfg.Resources))
	}

	host, ok := cfg.Resource("gpu-host")
	if !ok {
		t.Fatal("resource 'gpu-host' not found")
	}
	if host.Kind != model.KindPower {
		t.Errorf("expected kind power, got %s", host.Kind)
	}
	on := host.Operation(model.OpPowerOn)
	if on == nil || len(on.Endpoints) != 2 {
		t.Fatalf("expected 2 power_on endpoints")
	}
	if on.Deadline.Std() != 30*time.Second || on.PollInterval.Std() != 5*time.Second {
		t.Errorf("unexpected power_on timing: %v / %v", on.Deadline.Std(), on.PollInterval.Std())
	}
	off := host.Operation(model.OpPowerOff)
	if off.Endpoints[0].Retries != 2 || off.Endpoints[1].Command != "sudo shutdown -h now" {
		t.Errorf("unexpected power_off endpoints: %+v", off.Endpoints)
	}

	svc, _ := cfg.Resource("vllm")
	if svc.Status.StateMap["active"] != model.StateRunning {
		t.Errorf("expected stateMap active -> running")
	}
	if svc.Operation(model.OpPowerOn) != nil {
		t.Errorf("service must not carry power operations")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfigBytes([]byte(`
resources:
  - id: nas
    kind: power
    status:
      url: http://nas:8002/api/power/status
    operations:
      power_on:
        endpoints:
          - url: wol://10.0.0.255/aa:bb:cc:dd:ee:01
`))
	if err != nil {
		t.Fatalf("LoadConfigBytes failed: %v", err)
	}
	if cfg.Api.Listen != model.DefaultListen {
		t.Errorf("expected default listen, got '%s'", cfg.Api.Listen)
	}
	if got := cfg.Controller.Tick.Or(model.DefaultTick); got != time.Second {
		t.Errorf("expected default tick 1s, got %v", got)
	}
}

func TestLoadConfig_InfluxTokenFromEnvironment(t *testing.T) {
	t.Setenv(InfluxTokenEnv, "from-env")
	cfg, err := LoadConfigBytes([]byte(`
influx:
  url: http://influx:8086
  token: from-file
  org: home
  bucket: hostctl
resources: []
`))
	if err != nil {
		t.Fatalf("LoadConfigBytes failed: %v", err)
	}
	if cfg.Influx.Token != "from-env" {
		t.Errorf("expected token from environment, got '%s'", cfg.Influx.Token)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfigBytes([]byte(`
resources:
  - id: gpu-host
    kind: toaster
`))
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	_, err := LoadConfigBytes([]byte("controller:\n  tick: soon\n"))
	if err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}

func writeTempYaml(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hostctl.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// Validation Tests

func TestValidateConfig_Valid(t *testing.T) {
	result, err := ValidateConfigBytes([]byte(validConfig))
	if err != nil {
		t.Fatalf("ValidateConfigBytes failed: %v", err)
	}
	if !result.IsValid() {
		t.Errorf("expected valid config, got errors: %v", result.Errors)
	}
}

func TestValidateConfig_MissingId(t *testing.T) {
	result, err := ValidateConfigBytes([]byte(`
resources:
  - kind: power
    status:
      url: http://host:8002/api/power/status
`))
	if err != nil {
		t.Fatalf("ValidateConfigBytes failed: %v", err)
	}
	if result.IsValid() {
		t.Error("expected validation errors for missing id")
	}
	if !hasIssue(result.Errors, "resources[0].id") {
		t.Errorf("expected error for resources[0].id, got %v", result.Errors)
	}
}

func TestValidateConfig_InvalidIdFormat(t *testing.T) {
	result, err := ValidateConfigBytes([]byte(`
resources:
  - id: 123-invalid
    kind: power
    status:
      url: http://host:8002/api/power/status
`))
	if err != nil {
		t.Fatalf("ValidateConfigBytes failed: %v", err)
	}
	if result.IsValid() {
		t.Error("expected validation errors for invalid id format")
	}
}

func TestValidateConfig_DuplicateIds(t *testing.T) {
	result, err := ValidateConfigBytes([]byte(`
resources:
  - id: host
    kind: power
    status:
      url: http://a:8002/api/power/status
  - id: host
    kind: power
    status:
      url: http://b:8002/api/power/status
`))
	if err != nil {
		t.Fatalf("ValidateConfigBytes failed: %v", err)
	}
	if !hasIssue(result.Errors, "resources[1].id") {
		t.Errorf("expected duplicate id error, got %v", result.Errors)
	}
}

func TestValidateConfig_OperationProblems(t *testing.T) {
	result, err := ValidateConfigBytes([]byte(`
resources:
  - id: host
    kind: power
    status:
      url: ftp://host/status
      stateMap:
        serving: running
    operations:
      service_start:
        endpoints:
          - url: http://host/start
      power_on:
        endpoints:
          - url: carrier-pigeon://loft/1
      power_off:
        endpoints:
          - url: ssh://admin@host:22
            retries: -1
`))
	if err != nil {
		t.Fatalf("ValidateConfigBytes failed: %v", err)
	}

	for _, path := range []string{
		"resources[0].status.url",
		"resources[0].status.stateMap.serving",
		"resources[0].operations.service_start",
		"resources[0].operations.power_on.endpoints[0].url",
		"resources[0].operations.power_off.endpoints[0].retries",
		"resources[0].operations.power_off.endpoints[0].command",
	} {
		if !hasIssue(result.Errors, path) {
			t.Errorf("expected error for %s, got %v", path, result.Errors)
		}
	}
}

func TestValidateConfig_Requires(t *testing.T) {
	result, err := ValidateConfigBytes([]byte(`
resources:
  - id: svc-a
    kind: service
    requires: missing
    status:
      url: http://host/a
  - id: svc-b
    kind: service
    requires: svc-a
    status:
      url: http://host/b
`))
	if err != nil {
		t.Fatalf("ValidateConfigBytes failed: %v", err)
	}
	if !hasIssue(result.Errors, "resources[0].requires") || !hasIssue(result.Errors, "resources[1].requires") {
		t.Errorf("expected dependency errors, got %v", result.Errors)
	}
}

func TestValidateConfig_NoResources(t *testing.T) {
	result, err := ValidateConfigBytes([]byte("resources: []\n"))
	if err != nil {
		t.Fatalf("ValidateConfigBytes failed: %v", err)
	}
	if !result.IsValid() {
		t.Errorf("expected empty config to be valid, got %v", result.Errors)
	}
	if len(result.Warnings) == 0 {
		t.Error("expected warning for empty resources")
	}
}

func TestValidateConfig_UnknownField(t *testing.T) {
	if _, err := ValidateConfigBytes([]byte("regions: {}\n")); err == nil {
		t.Fatal("expected parse error for unknown field")
	}
}

func TestLoadAgentConfig(t *testing.T) {
	path := writeTempYaml(t, `
shutdownCommand: [sudo, shutdown, -h, now]
wake:
  mac: aa:bb:cc:dd:ee:ff
  broadcast: 192.168.8.255:9
services:
  - name: vllm
    start: [sudo, systemctl, start, vllm]
    stop: [sudo, systemctl, stop, vllm]
    status: [systemctl, is-active, vllm]
`)
	cfg, err := LoadAgentConfig(path)
	if err != nil {
		t.Fatalf("LoadAgentConfig failed: %v", err)
	}
	if cfg.Listen != model.DefaultAgentListen {
		t.Errorf("expected default agent listen, got '%s'", cfg.Listen)
	}
	if len(cfg.Services) != 1 || cfg.Services[0].Name != "vllm" {
		t.Errorf("unexpected services: %+v", cfg.Services)
	}

	if _, err := LoadAgentConfigBytes([]byte("wake:\n  mac: nope\n")); err == nil {
		t.Error("expected error for invalid mac")
	}
	if _, err := LoadAgentConfigBytes([]byte("services:\n  - name: a\n    status: [true]\n  - name: a\n    status: [true]\n")); err == nil {
		t.Error("expected error for duplicate service")
	}
}

func hasIssue(issues []ValidationIssue, path string) bool {
	for _, i := range issues {
		if i.Path == path {
			return true
		}
	}
	return false
}

func TestLoadConfig_ShippedExamples(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "etc", "hostctl.yaml"))
	if err != nil {
		t.Fatalf("etc/hostctl.yaml: %v", err)
	}
	if len(cfg.Resources) != 2 {
		t.Errorf("expected 2 resources, got %d", len(cfg.Resources))
	}

	agentCfg, err := LoadAgentConfig(filepath.Join("..", "..", "etc", "agent.yaml"))
	if err != nil {
		t.Fatalf("etc/agent.yaml: %v", err)
	}
	if len(agentCfg.Services) != 1 || agentCfg.Wake == nil {
		t.Errorf("unexpected agent config: %+v", agentCfg)
	}
}

func TestValidateConfig_SlowEndpointChain(t *testing.T) {
	result, err := ValidateConfigBytes([]byte(`
resources:
  - id: gpu-host
    kind: power
    status:
      url: http://192.168.8.10:8002/api/power/status
    operations:
      power_off:
        endpoints:
          - url: http://192.168.8.10:8002/api/power/shutdown
            timeout: 10s
            retries: 2
          - url: ssh://admin@192.168.8.10:22
            command: sudo shutdown -h now
`))
	if err != nil {
		t.Fatalf("ValidateConfigBytes failed: %v", err)
	}
	if !result.IsValid() {
		t.Errorf("expected slow chain to stay valid, got %v", result.Errors)
	}
	if !hasIssue(result.Warnings, "resources[0].operations.power_off.endpoints") {
		t.Errorf("expected dispatch duration warning, got %v", result.Warnings)
	}

	result, err = ValidateConfigBytes([]byte(validConfig))
	if err != nil {
		t.Fatalf("ValidateConfigBytes failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("expected no warnings for the reference config, got %v", result.Warnings)
	}
}
