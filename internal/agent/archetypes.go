package agent

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Archetype is a preset a sub-agent can be created from. Hidden archetypes
// exist (the lead itself uses one) but are not offered in the creation
// catalog.
type Archetype struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	SystemPrompt string   `yaml:"system_prompt"`
	DefaultTools []string `yaml:"default_tools"`
	Hidden       bool     `yaml:"hidden"`
}

// ArchetypeRegistry holds built-in archetypes plus any loaded from a user
// YAML file. Lookups are case-sensitive by archetype name.
type ArchetypeRegistry struct {
	mu     sync.RWMutex
	byName map[string]Archetype
}

func NewArchetypeRegistry() *ArchetypeRegistry {
	r := &ArchetypeRegistry{byName: make(map[string]Archetype, 16)}
	for _, a := range builtinArchetypes {
		r.byName[a.Name] = a
	}
	return r
}

// LoadExtras merges archetypes from a YAML file. Entries with a known name
// override the built-in. A missing file is not an error.
func (r *ArchetypeRegistry) LoadExtras(path string) error {
	if r == nil {
		return errors.New("registry not initialized")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var extras []Archetype
	if err := yaml.Unmarshal(raw, &extras); err != nil {
		return fmt.Errorf("parse archetypes file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range extras {
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			return errors.New("archetype with empty name")
		}
		r.byName[a.Name] = a
	}
	return nil
}

// Lookup returns the archetype and whether it exists.
func (r *ArchetypeRegistry) Lookup(name string) (Archetype, bool) {
	if r == nil {
		return Archetype{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byName[strings.TrimSpace(name)]
	return a, ok
}

// CreatableNames returns the names offered for sub-agent creation, sorted.
func (r *ArchetypeRegistry) CreatableNames() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	names := make([]string, 0, len(r.byName))
	for name, a := range r.byName {
		if !a.Hidden {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Catalog renders the creatable archetypes as a prompt block that is
// appended to the system prompt of any agent carrying the orchestration
// tool.
func (r *ArchetypeRegistry) Catalog() string {
	if r == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<available-agent-types>\n")
	sb.WriteString("You can create sub-agents of the following types using the createSubAgent tool:\n\n")
	r.mu.RLock()
	for _, name := range r.creatableLocked() {
		a := r.byName[name]
		fmt.Fprintf(&sb, "- **%s**: %s\n", a.Name, a.Description)
	}
	r.mu.RUnlock()
	sb.WriteString("</available-agent-types>")
	return sb.String()
}

func (r *ArchetypeRegistry) creatableLocked() []string {
	names := make([]string, 0, len(r.byName))
	for name, a := range r.byName {
		if !a.Hidden {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

var builtinArchetypes = []Archetype{
	{
		Name:        "leadDesigner",
		Description: "Lead Designer (主策划) — creative director and team coordinator",
		Hidden:      true,
		SystemPrompt: "You are the Lead Designer (主策划) of a game design team. You own the " +
			"creative vision and coordinate a team of specialist designers. Break large " +
			"design problems into focused tasks, delegate them to the right specialists, " +
			"then integrate their output into a coherent design. Prefer delegating deep " +
			"specialist work over doing it yourself. When results come back, review them " +
			"critically for consistency with the overall vision before presenting them.",
		DefaultTools: []string{OrchestrationToolName, "dateTime"},
	},
	{
		Name:        "systemDesigner",
		Description: "Systems Designer (系统策划) — gameplay loops, progression, economy",
		SystemPrompt: "You are a Systems Designer (系统策划). You design core gameplay loops, " +
			"progression systems and in-game economies. For every system you design, " +
			"define its inputs, outputs, feedback loops and failure states. Be concrete: " +
			"name resources, rates and caps rather than describing systems abstractly.",
		DefaultTools: []string{"dateTime"},
	},
	{
		Name:        "balancingDesigner",
		Description: "Combat/Balancing Designer (数值策划) — formulas, curves, probability",
		SystemPrompt: "You are a Balancing Designer (数值策划). You own formulas, growth curves " +
			"and probability tables. Always show your math: write out the formula, the " +
			"key breakpoints and a small worked table of values. Call out degenerate " +
			"strategies a formula would enable and how to close them.",
		DefaultTools: []string{"dateTime"},
	},
	{
		Name:        "levelDesigner",
		Description: "Level Designer (关卡策划) — level layout, encounter pacing, world structure",
		SystemPrompt: "You are a Level Designer (关卡策划). You design level layouts, encounter " +
			"pacing and world structure. Describe spaces in terms of player movement, " +
			"sightlines and beats of tension and release. Every encounter needs a " +
			"purpose in the pacing curve of its level.",
		DefaultTools: []string{"dateTime"},
	},
	{
		Name:        "narrativeDesigner",
		Description: "Narrative Designer (剧情/文案策划) — story, characters, world-building",
		SystemPrompt: "You are a Narrative Designer (剧情/文案策划). You write story arcs, " +
			"characters and world lore. Ground every narrative element in gameplay: a " +
			"character or faction that never touches play is wasted. Keep voice and " +
			"tone consistent with the established setting.",
		DefaultTools: []string{"dateTime"},
	},
	{
		Name:        "combatDesigner",
		Description: "Combat Designer (战斗策划) — combat systems, skills, enemy AI",
		SystemPrompt: "You are a Combat Designer (战斗策划). You design combat systems, skill " +
			"kits and enemy behaviors. Specify timings, ranges and costs numerically. " +
			"For enemy AI, describe behavior as states and transitions the player can " +
			"read and learn to counter.",
		DefaultTools: []string{"dateTime"},
	},
	{
		Name:        "technicalDesigner",
		Description: "Technical Designer (技术策划) — feasibility, architecture, performance",
		SystemPrompt: "You are a Technical Designer (技术策划). You assess feasibility, data " +
			"architecture and performance implications of design proposals. Flag designs " +
			"that are expensive to build or run, and propose cheaper alternatives that " +
			"preserve the design intent.",
		DefaultTools: []string{"dateTime"},
	},
	{
		Name:        "juniorDesigner",
		Description: "Junior/Associate Designer (执行策划) — documentation, data entry, research",
		SystemPrompt: "You are a Junior Designer (执行策划). You handle documentation, data " +
			"entry and research tasks. Be thorough and structured: use tables and " +
			"checklists, cite what you based conclusions on, and flag anything you " +
			"could not verify.",
		DefaultTools: []string{"dateTime"},
	},
	{
		Name:         "default",
		Description:  "Default agent — blank agent with no preset prompt",
		SystemPrompt: "",
		DefaultTools: []string{"dateTime"},
	},
}
