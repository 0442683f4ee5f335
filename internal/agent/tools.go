package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrotherOrange/PlayForge/internal/model"
)

// ToolRegistry maps tool names to model tool definitions. Agents reference
// tools by name in their stored definition; unknown names are skipped at
// request build time so a stale definition cannot break a chat.
type ToolRegistry struct {
	mu     sync.RWMutex
	byName map[string]model.Tool
}

func NewToolRegistry() *ToolRegistry {
	r := &ToolRegistry{byName: make(map[string]model.Tool, 8)}
	r.byName["dateTime"] = dateTimeTool()
	return r
}

func (r *ToolRegistry) Register(t model.Tool) error {
	if r == nil {
		return errors.New("tool registry not initialized")
	}
	name := strings.TrimSpace(t.Name)
	if name == "" || t.Handler == nil {
		return errors.New("invalid tool")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("tool already registered: %s", name)
	}
	r.byName[name] = t
	return nil
}

// Resolve returns the tools for the given names, skipping unknown ones.
func (r *ToolRegistry) Resolve(names []string) []model.Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.byName[strings.TrimSpace(name)]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

func dateTimeTool() model.Tool {
	return model.Tool{
		Name:        "dateTime",
		Description: "Returns the current date and time. Useful for scheduling and for timestamping design documents.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name, e.g. Asia/Shanghai. Defaults to UTC.",
				},
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			loc := time.UTC
			if tz, ok := args["timezone"].(string); ok && strings.TrimSpace(tz) != "" {
				l, err := time.LoadLocation(strings.TrimSpace(tz))
				if err != nil {
					return "", fmt.Errorf("unknown timezone: %s", tz)
				}
				loc = l
			}
			return time.Now().In(loc).Format("2006-01-02 15:04:05 MST"), nil
		},
	}
}
