// Package config loads and validates the Bundle: the set of declared
// platforms, datasources, rules, and the schema-registry reference that
// makes up the system's configuration root. The Bundle loads once
// from a static JSON file and is immutable thereafter; everything is
// validated eagerly at construction.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/syncd-io/syncd/internal/errs"
	"github.com/syncd-io/syncd/internal/rule"
)

// Strategy selects how a Datasource stores records.
type Strategy string

const (
	StrategyDocument Strategy = "DOCUMENT"
	StrategyFile     Strategy = "FILE"
)

// Platform is an identity plus credentials for a Git provider.
// Credentials are held by reference (a file path or env var name);
// Load never embeds raw secret material in the parsed Bundle.
type Platform struct {
	Name        string            `json:"name"`
	Kind        string            `json:"kind"` // e.g. "github"
	BaseURL     string            `json:"baseUrl,omitempty"`
	Owner       string            `json:"owner,omitempty"`
	TokenEnv    string            `json:"tokenEnv,omitempty"`
	SSHKeyFile  string            `json:"sshKeyFile,omitempty"`
	AppID       string            `json:"appId,omitempty"`
	AppKeyFile  string            `json:"appKeyFile,omitempty"`
	InstallID   string            `json:"installId,omitempty"`
	WebhookSecretEnv string       `json:"webhookSecretEnv,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// Datasource is an identity plus connection options plus a storage
// strategy.
type Datasource struct {
	Name             string            `json:"name"`
	Kind             string            `json:"kind"` // e.g. "mongo", "file"
	Strategy         Strategy          `json:"strategy"`
	ConnectionURIEnv string            `json:"connectionUriEnv,omitempty"`
	Database         string            `json:"database,omitempty"`
	Container        string            `json:"container,omitempty"` // static collection/directory name
	DynamicContainer bool              `json:"dynamicContainer,omitempty"`
	BufferSize       int               `json:"bufferSize,omitempty"`
	Options          map[string]string `json:"options,omitempty"`
}

// WorkerConfig sizes the orchestration layer's queues and per-task
// deadlines.
type WorkerConfig struct {
	MainConcurrency   int           `json:"mainConcurrency"`
	WorkerConcurrency int           `json:"workerConcurrency"`
	FetchConcurrency  int           `json:"fetchConcurrency"`
	SoftTimeout       time.Duration `json:"softTimeout"`
	HardTimeout       time.Duration `json:"hardTimeout"`
}

// SelfHealingConfig gates the reconciler loop.
type SelfHealingConfig struct {
	Enabled              bool          `json:"enabled"`
	PollInterval         time.Duration `json:"pollInterval"`
	MaxConsecutiveErrors int           `json:"maxConsecutiveErrors"`
}

// Bundle is the configuration root: immutable after Load, re-load
// requires a process restart.
type Bundle struct {
	SchemaRegistry string            `json:"schema_registry"`
	Platforms      []Platform        `json:"platforms"`
	Datasources    []Datasource      `json:"datasources"`
	Rules          []rule.Rule       `json:"rules"`
	Worker         WorkerConfig      `json:"celery"`
	SelfHealing    SelfHealingConfig `json:"self_healing"`

	platformByName   map[string]*Platform
	datasourceByName map[string]*Datasource
}

const (
	defaultMainConcurrency   = 10
	defaultWorkerConcurrency = 20
	defaultFetchConcurrency  = 20
	defaultSoftTimeout       = 14 * time.Minute
	defaultHardTimeout       = 15 * time.Minute
	defaultPollInterval      = 10 * time.Second
	defaultMaxConsecutiveErr = 3
	defaultBufferSize        = 50
)

// Load reads and validates the Bundle from a JSON file at path.
// Validation is eager and fatal: any invalid rule, dangling platform/
// datasource reference, or duplicate name fails the whole load.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading bundle file %q: %v", errs.ConfigInvalid, path, err)
	}
	b, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("bundle file %q: %w", path, err)
	}
	return b, nil
}

// Parse validates a raw JSON bundle.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: parsing bundle: %v", errs.ConfigInvalid, err)
	}
	b.applyDefaults()
	if err := b.validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Bundle) applyDefaults() {
	if b.Worker.MainConcurrency == 0 {
		b.Worker.MainConcurrency = defaultMainConcurrency
	}
	if b.Worker.WorkerConcurrency == 0 {
		b.Worker.WorkerConcurrency = defaultWorkerConcurrency
	}
	if b.Worker.FetchConcurrency == 0 {
		b.Worker.FetchConcurrency = defaultFetchConcurrency
	}
	if b.Worker.SoftTimeout == 0 {
		b.Worker.SoftTimeout = defaultSoftTimeout
	}
	if b.Worker.HardTimeout == 0 {
		b.Worker.HardTimeout = defaultHardTimeout
	}
	if b.SelfHealing.PollInterval == 0 {
		b.SelfHealing.PollInterval = defaultPollInterval
	}
	if b.SelfHealing.MaxConsecutiveErrors == 0 {
		b.SelfHealing.MaxConsecutiveErrors = defaultMaxConsecutiveErr
	}
	for i := range b.Datasources {
		if b.Datasources[i].BufferSize == 0 {
			b.Datasources[i].BufferSize = defaultBufferSize
		}
	}
}

func (b *Bundle) validate() error {
	b.platformByName = make(map[string]*Platform, len(b.Platforms))
	for i := range b.Platforms {
		p := &b.Platforms[i]
		if p.Name == "" {
			return fmt.Errorf("%w: platform at index %d has no name", errs.ConfigInvalid, i)
		}
		if _, dup := b.platformByName[p.Name]; dup {
			return fmt.Errorf("%w: duplicate platform name %q", errs.ConfigInvalid, p.Name)
		}
		b.platformByName[p.Name] = p
	}

	b.datasourceByName = make(map[string]*Datasource, len(b.Datasources))
	for i := range b.Datasources {
		d := &b.Datasources[i]
		if d.Name == "" {
			return fmt.Errorf("%w: datasource at index %d has no name", errs.ConfigInvalid, i)
		}
		if _, dup := b.datasourceByName[d.Name]; dup {
			return fmt.Errorf("%w: duplicate datasource name %q", errs.ConfigInvalid, d.Name)
		}
		if d.Strategy != StrategyDocument && d.Strategy != StrategyFile {
			return fmt.Errorf("%w: datasource %q has invalid strategy %q", errs.ConfigInvalid, d.Name, d.Strategy)
		}
		b.datasourceByName[d.Name] = d
	}

	for i := range b.Rules {
		r := &b.Rules[i]
		if err := r.Validate(); err != nil {
			return err
		}
		if _, ok := b.platformByName[r.Platform]; !ok {
			return fmt.Errorf("%w: rule %q references unknown platform %q", errs.ConfigInvalid, r.Name, r.Platform)
		}
		if _, ok := b.datasourceByName[r.Datasource]; !ok {
			return fmt.Errorf("%w: rule %q references unknown datasource %q", errs.ConfigInvalid, r.Name, r.Datasource)
		}
	}
	return nil
}

// Platform looks up a declared platform by name.
func (b *Bundle) Platform(name string) (*Platform, bool) {
	p, ok := b.platformByName[name]
	return p, ok
}

// Datasource looks up a declared datasource by name.
func (b *Bundle) Datasource(name string) (*Datasource, bool) {
	d, ok := b.datasourceByName[name]
	return d, ok
}
