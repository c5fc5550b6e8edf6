// Package tools exposes the engine's operations as named, callable tools.
// Each tool validates primitive argument shapes before delegating; engine
// errors are surfaced to the caller unchanged.
package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/timetrail/timetrail/internal/journal"
)

type Handler func(ctx context.Context, args map[string]any) (any, error)

type Tool struct {
	Name        string
	Description string
	Handler     Handler
}

type Registry struct {
	tools   map[string]*Tool
	journal *journal.Journal
	logger  *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// SetJournal enables local journaling of every invocation.
func (r *Registry) SetJournal(j *journal.Journal) {
	r.journal = j
}

func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	start := time.Now()
	result, err := tool.Handler(ctx, args)
	elapsed := time.Since(start)

	entry := logrus.Fields{"tool": name, "duration": elapsed}
	if err != nil {
		r.logger.WithFields(entry).WithError(err).Error("tool call failed")
	} else {
		r.logger.WithFields(entry).Debug("tool call completed")
	}

	if r.journal != nil {
		jentry := &journal.Entry{
			Tool:      name,
			Arguments: args,
			OK:        err == nil,
			Duration:  elapsed,
		}
		if err != nil {
			jentry.Error = err.Error()
		}
		if jerr := r.journal.Append(jentry); jerr != nil {
			r.logger.WithError(jerr).Warn("failed to journal tool call")
		}
	}

	return result, err
}
