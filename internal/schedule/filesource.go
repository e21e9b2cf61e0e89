package schedule

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/phrazzld/taskcore/internal/domain"
	"gopkg.in/yaml.v3"
)

// definitionsFile is the on-disk layout of a FileSource.
//
//	tenants:
//	  alice:
//	    - name: morning-briefing
//	      kind: digest
//	      cron: "0 7 * * 1-5"
//	      timezone: Europe/Berlin
//	      conversation_ref: chat-42
type definitionsFile struct {
	Tenants map[string][]fileDefinition `yaml:"tenants"`
}

type fileDefinition struct {
	Name            string `yaml:"name"`
	Kind            string `yaml:"kind"`
	Cron            string `yaml:"cron"`
	TimeZone        string `yaml:"timezone"`
	Prompt          string `yaml:"prompt"`
	Command         string `yaml:"command"`
	ConversationRef string `yaml:"conversation_ref"`
	Priority        *int   `yaml:"priority"`
	Enabled         *bool  `yaml:"enabled"`
}

func (d fileDefinition) toDomain() domain.RecurringJob {
	job := domain.RecurringJob{
		Name:           d.Name,
		Kind:           domain.JobKind(d.Kind),
		Prompt:         d.Prompt,
		Command:        d.Command,
		CronExpression: d.Cron,
		TimeZone:       d.TimeZone,
		Priority:       domain.DefaultPriority,
		Enabled:        true,
	}
	if d.ConversationRef != "" {
		ref := d.ConversationRef
		job.ConversationRef = &ref
	}
	if d.Priority != nil {
		job.Priority = *d.Priority
	}
	if d.Enabled != nil {
		job.Enabled = *d.Enabled
	}
	return job
}

// FileSource reads recurring definitions from a YAML file and reports them
// only when the file's modification time changes.
type FileSource struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	tenants map[string]struct{}
}

// NewFileSource creates a FileSource for path. The file need not exist yet.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, tenants: make(map[string]struct{})}
}

// Path returns the watched file.
func (s *FileSource) Path() string {
	return s.path
}

// Changes returns every tenant's definitions when the file changed since the
// last call, and nil otherwise. Tenants removed from the file are returned
// with no definitions so they get cleared. A missing file yields nothing.
func (s *FileSource) Changes() (map[string][]domain.RecurringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat definitions file: %w", err)
	}
	if info.ModTime().Equal(s.modTime) {
		return nil, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}
	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse definitions file %s: %w", s.path, err)
	}

	changes := make(map[string][]domain.RecurringJob, len(file.Tenants))
	seen := make(map[string]struct{}, len(file.Tenants))
	for tenantID, defs := range file.Tenants {
		jobs := make([]domain.RecurringJob, 0, len(defs))
		for _, d := range defs {
			jobs = append(jobs, d.toDomain())
		}
		changes[tenantID] = jobs
		seen[tenantID] = struct{}{}
	}
	for tenantID := range s.tenants {
		if _, ok := seen[tenantID]; !ok {
			changes[tenantID] = []domain.RecurringJob{}
		}
	}

	s.tenants = seen
	s.modTime = info.ModTime()
	return changes, nil
}

// Invalidate forces the next Changes call to reread the file.
func (s *FileSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modTime = time.Time{}
}
