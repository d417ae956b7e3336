// Package catalog loads read-only protocol definitions from YAML files.
// New executions are seeded from a catalog entry.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"labexec/internal/core"
	"labexec/pkg/domain"
)

type protocolFile struct {
	ID         string          `yaml:"id"`
	Version    string          `yaml:"version"`
	Title      string          `yaml:"title"`
	Config     configFile      `yaml:"config"`
	Steps      []stepFile      `yaml:"steps"`
	Conditions []conditionFile `yaml:"conditions"`
}

type configFile struct {
	StrictTolerance            bool `yaml:"strict_tolerance"`
	AllowEarlySampleCompletion bool `yaml:"allow_early_sample_completion"`
}

type stepFile struct {
	ID           string            `yaml:"id"`
	Title        string            `yaml:"title"`
	Instructions []string          `yaml:"instructions"`
	Measurements []measurementFile `yaml:"measurements"`
}

type measurementFile struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Unit      string   `yaml:"unit"`
	Type      string   `yaml:"type"`
	Required  bool     `yaml:"required"`
	Expected  any      `yaml:"expected"`
	Tolerance *float64 `yaml:"tolerance"`
}

type conditionFile struct {
	Name      string   `yaml:"name"`
	Target    any      `yaml:"target"`
	Unit      string   `yaml:"unit"`
	Tolerance *float64 `yaml:"tolerance"`
	Required  bool     `yaml:"required"`
}

func (p protocolFile) toDomain() (domain.ProtocolDefinition, error) {
	out := domain.ProtocolDefinition{
		ID:      p.ID,
		Version: p.Version,
		Title:   p.Title,
		Config: domain.ProtocolConfig{
			StrictTolerance:            p.Config.StrictTolerance,
			AllowEarlySampleCompletion: p.Config.AllowEarlySampleCompletion,
		},
		Steps: make([]domain.StepDefinition, 0, len(p.Steps)),
	}
	for _, s := range p.Steps {
		step := domain.StepDefinition{ID: s.ID, Title: s.Title, Instructions: s.Instructions}
		for _, m := range s.Measurements {
			def := domain.MeasurementDefinition{
				ID:        m.ID,
				Name:      m.Name,
				Unit:      m.Unit,
				Type:      domain.DataType(strings.ToLower(m.Type)),
				Required:  m.Required,
				Tolerance: m.Tolerance,
			}
			if m.Expected != nil {
				v, err := domain.ValueOf(m.Expected)
				if err != nil {
					return domain.ProtocolDefinition{}, fmt.Errorf("step %s measurement %s expected: %w", s.ID, m.ID, err)
				}
				def.Expected = &v
			}
			step.Measurements = append(step.Measurements, def)
		}
		out.Steps = append(out.Steps, step)
	}
	for _, c := range p.Conditions {
		target, err := domain.ValueOf(c.Target)
		if err != nil {
			return domain.ProtocolDefinition{}, fmt.Errorf("condition %s target: %w", c.Name, err)
		}
		out.Conditions = append(out.Conditions, domain.ConditionDefinition{
			Name:      c.Name,
			Target:    target,
			Unit:      c.Unit,
			Tolerance: c.Tolerance,
			Required:  c.Required,
		})
	}
	return out, nil
}

// Parse decodes every YAML document in r and validates each protocol.
func Parse(r io.Reader) ([]domain.ProtocolDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var out []domain.ProtocolDefinition
	for {
		var doc protocolFile
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse protocol yaml: %w", err)
		}
		p, err := doc.toDomain()
		if err != nil {
			return nil, fmt.Errorf("protocol %s: %w", doc.ID, err)
		}
		if err := core.ValidateProtocol(p); err != nil {
			return nil, fmt.Errorf("protocol %s: %w", doc.ID, err)
		}
		out = append(out, p)
	}
}

// Summary is a catalog listing row.
type Summary struct {
	ID        string `json:"id"`
	Version   string `json:"version,omitempty"`
	Title     string `json:"title"`
	StepCount int    `json:"step_count"`
}

// Catalog holds protocol definitions keyed by id and version.
type Catalog struct {
	mu        sync.RWMutex
	protocols map[string]map[string]domain.ProtocolDefinition
}

// New returns a catalog holding protocols. Duplicate id/version pairs are rejected.
func New(protocols ...domain.ProtocolDefinition) (*Catalog, error) {
	c := &Catalog{protocols: make(map[string]map[string]domain.ProtocolDefinition)}
	for _, p := range protocols {
		if err := c.add(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Load reads every .yaml / .yml file below dir.
func Load(dir string) (*Catalog, error) {
	c, _ := New()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ext := strings.ToLower(filepath.Ext(path)); ext != ".yaml" && ext != ".yml" {
			return nil
		}
		f, err := os.Open(path) // #nosec G304 -- operator-supplied catalog directory
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		protocols, err := Parse(f)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		for _, p := range protocols {
			if err := c.add(p); err != nil {
				return fmt.Errorf("load %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) add(p domain.ProtocolDefinition) error {
	if err := core.ValidateProtocol(p); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	versions, ok := c.protocols[p.ID]
	if !ok {
		versions = make(map[string]domain.ProtocolDefinition)
		c.protocols[p.ID] = versions
	}
	if _, dup := versions[p.Version]; dup {
		return domain.AlreadyExistsError{Entity: domain.EntityProtocol, ID: p.ID + "@" + p.Version}
	}
	versions[p.Version] = p.Clone()
	return nil
}

// Get returns a copy of protocol id at version, or the highest version when
// version is empty.
func (c *Catalog) Get(id, version string) (domain.ProtocolDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions, ok := c.protocols[id]
	if !ok {
		return domain.ProtocolDefinition{}, domain.NotFoundError{Entity: domain.EntityProtocol, ID: id}
	}
	if version == "" {
		keys := sortedVersions(versions)
		version = keys[len(keys)-1]
	}
	p, ok := versions[version]
	if !ok {
		return domain.ProtocolDefinition{}, domain.NotFoundError{Entity: domain.EntityProtocol, ID: id + "@" + version}
	}
	return p.Clone(), nil
}

// List returns every protocol version ordered by id then version.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Summary, 0, len(c.protocols))
	for _, versions := range c.protocols {
		for _, v := range sortedVersions(versions) {
			p := versions[v]
			out = append(out, Summary{ID: p.ID, Version: p.Version, Title: p.Title, StepCount: len(p.Steps)})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedVersions(versions map[string]domain.ProtocolDefinition) []string {
	keys := make([]string, 0, len(versions))
	for k := range versions {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return compareVersions(keys[i], keys[j]) < 0 })
	return keys
}

// compareVersions orders dotted versions numerically where both parts are
// numbers and lexically otherwise, so "1.10" sorts after "1.9".
func compareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, errA := strconv.Atoi(pa[i])
		nb, errB := strconv.Atoi(pb[i])
		switch {
		case errA == nil && errB == nil && na != nb:
			if na < nb {
				return -1
			}
			return 1
		case (errA != nil || errB != nil) && pa[i] != pb[i]:
			return strings.Compare(pa[i], pb[i])
		}
	}
	return len(pa) - len(pb)
}
