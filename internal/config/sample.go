package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SampleYAML is the commented starter configuration written by
// `gpuwatch init`.
const SampleYAML = `# gpuwatch configuration. Durations use Go syntax (30s, 5m, 1h).
mail:
  from: gpu-robot@example.com
  smtp_server: smtp.example.com
  ssl_port: 465
  password: change-me
  recipients:
    - someone@example.com
  # Pause before each recipient so bulk sends are not flagged as spam.
  send_delay: 5s
  # Upper bound on messages per rolling hour; 0 disables the cap.
  max_per_hour: 0
  ca_file: ""
remote:
  host: 10.0.3.41
  port: 22
  username: root
  password: change-me
  # Leave empty to accept any host key.
  known_hosts: ""
  timeout: 10s
trigger:
  # level: notify every cycle while enough GPUs are free, then cool down.
  # edge: notify only when the set of free GPUs changes.
  mode: level
  must: 1
  mem_rate: 0.9
  quiet_hours: [0, 1, 2, 3, 4, 5, 6]
  level_cooldown: 1h
  edge_cooldown: 10m
  poll_interval: 1m
  selector: memory
  timezone: Local
log:
  level: info
  pretty: false
`

// WriteSample writes SampleYAML to path. An existing file is never
// overwritten.
func WriteSample(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return fmt.Errorf("config %q already exists", path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("check config %q: %w", path, err)
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("ensure config dir %q: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(SampleYAML), 0o600); err != nil {
		return fmt.Errorf("write temp config %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit config %q: %w", path, err)
	}
	return nil
}
