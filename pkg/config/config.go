package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Controller is the top-level AutoCrane configuration.
type Controller struct {
	Logging   Logging   `json:"logging" yaml:"logging"`
	Cluster   Cluster   `json:"cluster" yaml:"cluster"`
	Orchestra Orchestra `json:"orchestrator" yaml:"orchestrator"`
}

// Validate accumulates every configuration problem found and returns them
// joined into a single error, matching the teacher's error-collection style.
func (c Controller) Validate() error {
	var errs []string

	if len(c.Orchestra.Namespaces) == 0 {
		errs = append(errs, "orchestrator.namespaces cannot be empty")
	}
	if c.Orchestra.LeaderLease == "" {
		errs = append(errs, "orchestrator.leaderLease cannot be blank")
	}
	if c.Orchestra.IterationSeconds < 1 {
		errs = append(errs, "orchestrator.iterationSeconds must be greater than or equal to 1")
	}
	if c.Orchestra.ConsecutiveErrorLimit < 1 {
		errs = append(errs, "orchestrator.consecutiveErrorLimit must be greater than or equal to 1")
	}
	if c.Orchestra.WatchdogFailuresBeforeEviction < 1 {
		errs = append(errs, "orchestrator.watchdogFailuresBeforeEviction must be greater than or equal to 1")
	}
	if c.Cluster.ManifestConfigMap == "" {
		errs = append(errs, "cluster.manifestConfigMap cannot be blank")
	}
	if len(c.Cluster.DataRepositories) == 0 {
		errs = append(errs, "cluster.dataRepositories cannot be empty")
	}

	if len(errs) != 0 {
		return fmt.Errorf("config is invalid: %s", strings.Join(errs, ", "))
	}

	return nil
}

// Logging controls the zap logger built by pkg/logger.
type Logging struct {
	Encoder  string `json:"encoder" yaml:"encoder"`
	LogLevel string `json:"level" yaml:"level"`
}

// Cluster describes how to reach the cluster API and where the version
// bookkeeping objects live.
type Cluster struct {
	// Kubeconfig path; empty means the default kubeconfig loading rules,
	// falling back to in-cluster config.
	Kubeconfig string `json:"kubeconfig" yaml:"kubeconfig,omitempty"`
	// ManifestConfigMap names the ConfigMap holding the global version manifest.
	ManifestConfigMap string `json:"manifestConfigMap" yaml:"manifestConfigMap"`
	// ManifestNamespace is the namespace that owns the manifest ConfigMap.
	ManifestNamespace string `json:"manifestNamespace" yaml:"manifestNamespace"`
	// VersionsConfigMapPrefix names the sentinel ConfigMap, within each
	// configured namespace, that persists that namespace's known-good and
	// latest version sets as annotations.
	VersionsConfigMapPrefix string `json:"versionsConfigMapPrefix" yaml:"versionsConfigMapPrefix"`
	// DataRepositories maps repo name to its canonical download path.
	DataRepositories map[string]string `json:"dataRepositories" yaml:"dataRepositories"`
	// Watchdogs names the pod condition types treated as watchdog probes.
	Watchdogs []string `json:"watchdogs" yaml:"watchdogs"`
}

// Orchestra holds the orchestrator loop's tunables, named directly after the
// environment variables in spec §6.
type Orchestra struct {
	Namespaces                     []string `json:"namespaces" yaml:"namespaces"`
	LeaderLease                    string   `json:"leaderLease" yaml:"leaderLease"`
	IterationSeconds               int      `json:"iterationSeconds" yaml:"iterationSeconds"`
	ConsecutiveErrorLimit          int      `json:"consecutiveErrorLimit" yaml:"consecutiveErrorLimit"`
	WatchdogFailuresBeforeEviction int      `json:"watchdogFailuresBeforeEviction" yaml:"watchdogFailuresBeforeEviction"`
}

// IterationPeriod returns the configured iteration period as a Duration.
func (o Orchestra) IterationPeriod() time.Duration {
	return time.Duration(o.IterationSeconds) * time.Second
}

// Defaults returns a config skeleton with spec-mandated defaults filled in.
func Defaults() Controller {
	return Controller{
		Logging: Logging{Encoder: "console", LogLevel: "info"},
		Cluster: Cluster{
			ManifestConfigMap:       "autocrane-manifest",
			ManifestNamespace:       "autocrane-system",
			VersionsConfigMapPrefix: "autocrane-versions",
			DataRepositories:        map[string]string{},
			Watchdogs:               []string{},
		},
		Orchestra: Orchestra{
			Namespaces:                     nil,
			LeaderLease:                    "acleaderorchestrate",
			IterationSeconds:               60,
			ConsecutiveErrorLimit:          5,
			WatchdogFailuresBeforeEviction: 3,
		},
	}
}

// LoadFromFile reads a YAML or JSON configuration file, selected by extension.
func LoadFromFile(filename string) (Controller, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return Controller{}, err
	}

	cfg := Defaults()
	switch ext := filepath.Ext(filename); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bs, &cfg)
	case ".json":
		err = json.Unmarshal(bs, &cfg)
	default:
		return Controller{}, fmt.Errorf("file extension %q is not allowed", ext)
	}

	return cfg, err
}
