package govern

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts Go duration strings ("1h30m") for the action
// duration, which yaml.v3 does not decode into time.Duration natively.
func (a *ActionSpec) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Type       ActionType    `yaml:"type"`
		Throttle   *ThrottleSpec `yaml:"throttle"`
		Degrade    *DegradeSpec  `yaml:"degrade"`
		Queue      *QueueSpec    `yaml:"queue"`
		Reject     *RejectSpec   `yaml:"reject"`
		Shutdown   *ShutdownSpec `yaml:"shutdown"`
		Duration   string        `yaml:"duration"`
		Reversible bool          `yaml:"reversible"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}

	a.Type = aux.Type
	a.Throttle = aux.Throttle
	a.Degrade = aux.Degrade
	a.Queue = aux.Queue
	a.Reject = aux.Reject
	a.Shutdown = aux.Shutdown
	a.Reversible = aux.Reversible
	a.Duration = nil
	if aux.Duration != "" {
		d, err := time.ParseDuration(aux.Duration)
		if err != nil {
			return fmt.Errorf("parse action duration %q: %w", aux.Duration, err)
		}
		a.Duration = &d
	}
	return nil
}

// UnmarshalYAML accepts Go duration strings for the queue delay.
func (q *QueueSpec) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		MaxDelay string `yaml:"max_delay"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	if aux.MaxDelay == "" {
		q.MaxDelay = 0
		return nil
	}
	d, err := time.ParseDuration(aux.MaxDelay)
	if err != nil {
		return fmt.Errorf("parse queue delay %q: %w", aux.MaxDelay, err)
	}
	q.MaxDelay = d
	return nil
}

// Source supplies the default governance config used to bootstrap a
// subject on its first cost event.
type Source interface {
	Defaults(ctx context.Context, subjectID string) (*Config, error)
}

// StaticSource returns a fixed defaults template. Useful for tests and
// for embedding defaults in code.
type StaticSource struct {
	Config Config
}

// Defaults returns a copy of the template bound to the subject.
func (s StaticSource) Defaults(_ context.Context, subjectID string) (*Config, error) {
	cfg := s.Config
	cfg.SubjectID = subjectID
	cfg.Rules = append([]Rule(nil), s.Config.Rules...)
	cfg.Degradation = append([]DegradationLevel(nil), s.Config.Degradation...)
	if len(s.Config.Budgets) > 0 {
		cfg.Budgets = make(map[Period]float64, len(s.Config.Budgets))
		for k, v := range s.Config.Budgets {
			cfg.Budgets[k] = v
		}
	}
	return &cfg, nil
}

// FileSource loads the defaults template from a YAML file. The file is
// parsed once on first use and the result is cached for the process
// lifetime.
type FileSource struct {
	path string

	once sync.Once
	tmpl Config
	err  error
}

// NewFileSource creates a file-backed defaults source. The file is not
// touched until the first Defaults call.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Defaults parses the template file and binds it to the subject.
func (s *FileSource) Defaults(ctx context.Context, subjectID string) (*Config, error) {
	s.once.Do(func() {
		raw, err := os.ReadFile(s.path)
		if err != nil {
			s.err = fmt.Errorf("read governance defaults %q: %w", s.path, err)
			return
		}
		if err := yaml.Unmarshal(raw, &s.tmpl); err != nil {
			s.err = fmt.Errorf("parse governance defaults %q: %w", s.path, err)
			return
		}
		s.tmpl.SubjectID = "template"
		if err := s.tmpl.Validate(); err != nil {
			s.err = fmt.Errorf("governance defaults %q: %w", s.path, err)
		}
	})
	if s.err != nil {
		return nil, s.err
	}
	return StaticSource{Config: s.tmpl}.Defaults(ctx, subjectID)
}
