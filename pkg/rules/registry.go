package rules

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/fsnotify.v1"
	"gopkg.in/yaml.v3"

	"github.com/coolbeans/riskscan/pkg/filing"
)

//go:embed builtin/*.yaml
var builtinFiles embed.FS

// RuleFile is the on-disk layout of a rule file. File-level fields are
// defaults for every rule in the file.
type RuleFile struct {
	DocumentKind filing.Kind    `yaml:"document_kind,omitempty"`
	Surface      Surface        `yaml:"surface,omitempty"`
	Labels       *LabelFilter   `yaml:"labels,omitempty"`
	Rules        []BoundaryRule `yaml:"rules"`
}

// Registry manages the collection of boundary rules.
type Registry interface {
	// Register adds a rule; a rule with the same ID must not exist
	Register(rule *BoundaryRule) error

	// Replace adds a rule, replacing any rule with the same ID
	Replace(rule *BoundaryRule) error

	// Unregister removes a rule by ID
	Unregister(ruleID string) error

	// Get returns a rule by ID
	Get(ruleID string) (*BoundaryRule, bool)

	// List returns all rules in cascade order
	List() []*BoundaryRule

	// Snapshot returns an immutable view for one extraction run
	Snapshot() *RuleSet

	// LoadDirectory loads every rule file in a directory
	LoadDirectory(dir string) error

	// LoadFile loads a single rule file
	LoadFile(path string) error

	// Reload reloads the built-in rules and the configured directory
	Reload() error

	// Watch starts watching the configured directory for changes
	Watch() error

	// StopWatch stops watching the configured directory
	StopWatch()
}

// DefaultRegistry is the default implementation of the rule Registry.
type DefaultRegistry struct {
	mu          sync.RWMutex
	rules       map[string]*BoundaryRule
	nextOrder   int
	withBuiltin bool
	dir         string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	onChange    func(event string, path string)
}

var _ Registry = (*DefaultRegistry)(nil)

// NewRegistry creates an empty rule registry.
func NewRegistry() *DefaultRegistry {
	return &DefaultRegistry{
		rules: make(map[string]*BoundaryRule),
	}
}

// NewDefaultRegistry creates a registry holding the built-in rule tables.
func NewDefaultRegistry() (*DefaultRegistry, error) {
	registry := NewRegistry()
	if err := registry.LoadBuiltin(); err != nil {
		return nil, err
	}
	return registry, nil
}

// NewRegistryWithDirectory creates a registry with the built-in tables and
// then loads dir on top, where rules replace built-in rules with the same ID.
func NewRegistryWithDirectory(dir string) (*DefaultRegistry, error) {
	registry, err := NewDefaultRegistry()
	if err != nil {
		return nil, err
	}
	if err := registry.LoadDirectory(dir); err != nil {
		return nil, err
	}
	return registry, nil
}

// Register adds a rule to the registry.
func (r *DefaultRegistry) Register(rule *BoundaryRule) error {
	return r.put(rule, false)
}

// Replace adds a rule, replacing any registered rule with the same ID.
func (r *DefaultRegistry) Replace(rule *BoundaryRule) error {
	return r.put(rule, true)
}

func (r *DefaultRegistry) put(rule *BoundaryRule, allowReplace bool) error {
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}

	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	if !rule.IsCompiled() {
		if err := rule.Compile(); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rules[rule.ID]; ok {
		if !allowReplace {
			return fmt.Errorf("rule %q already registered from %s", rule.ID, describeSource(existing.Source))
		}
		rule.order = existing.order
	} else {
		rule.order = r.nextOrder
		r.nextOrder++
	}

	r.rules[rule.ID] = rule
	return nil
}

// Unregister removes a rule from the registry.
func (r *DefaultRegistry) Unregister(ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[ruleID]; !ok {
		return fmt.Errorf("rule %q not found", ruleID)
	}

	delete(r.rules, ruleID)
	return nil
}

// Get returns a rule by ID.
func (r *DefaultRegistry) Get(ruleID string) (*BoundaryRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, ok := r.rules[ruleID]
	return rule, ok
}

// List returns all rules, generic before entity-specific, each group by
// priority then registration order.
func (r *DefaultRegistry) List() []*BoundaryRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]*BoundaryRule, 0, len(r.rules))
	for _, rule := range r.rules {
		rules = append(rules, rule)
	}
	sortCascade(rules)
	return rules
}

// Snapshot returns an immutable RuleSet of the current rules.
func (r *DefaultRegistry) Snapshot() *RuleSet {
	return &RuleSet{rules: r.List()}
}

// Count returns the number of registered rules.
func (r *DefaultRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Clear removes all rules from the registry.
func (r *DefaultRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = make(map[string]*BoundaryRule)
	r.nextOrder = 0
}

// LoadBuiltin registers the embedded rule tables.
func (r *DefaultRegistry) LoadBuiltin() error {
	r.withBuiltin = true

	paths, err := fs.Glob(builtinFiles, "builtin/*.yaml")
	if err != nil {
		return fmt.Errorf("listing built-in rules: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		data, err := builtinFiles.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading built-in rules %s: %w", path, err)
		}
		if err := r.loadData(data, path, false); err != nil {
			return fmt.Errorf("loading built-in rules %s: %w", path, err)
		}
	}
	return nil
}

// LoadDirectory loads all YAML rule files from a directory. Rules from the
// directory replace registered rules with the same ID.
func (r *DefaultRegistry) LoadDirectory(dir string) error {
	r.dir = dir

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var loadErrors []string
	for _, entry := range entries {
		if entry.IsDir() || !isRuleFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := r.LoadFile(path); err != nil {
			loadErrors = append(loadErrors, fmt.Sprintf("%s: %v", entry.Name(), err))
		}
	}

	if len(loadErrors) > 0 {
		return fmt.Errorf("errors loading rules: %s", strings.Join(loadErrors, "; "))
	}

	return nil
}

// LoadFile loads a single rule file, replacing rules with the same ID.
func (r *DefaultRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return r.loadData(data, path, true)
}

func (r *DefaultRegistry) loadData(data []byte, source string, allowReplace bool) error {
	var ruleFile RuleFile
	if err := yaml.Unmarshal(data, &ruleFile); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	if len(ruleFile.Rules) == 0 {
		return fmt.Errorf("no rules defined")
	}

	for position := range ruleFile.Rules {
		rule := ruleFile.Rules[position]
		if rule.DocumentKind == "" {
			rule.DocumentKind = ruleFile.DocumentKind
		}
		if rule.Surface == "" {
			rule.Surface = ruleFile.Surface
		}
		if rule.Labels == nil && ruleFile.Labels != nil {
			labels := *ruleFile.Labels
			rule.Labels = &labels
		}
		rule.Source = source

		if err := r.put(&rule, allowReplace); err != nil {
			return fmt.Errorf("registering rule %d: %w", position, err)
		}
	}

	return nil
}

// Reload rebuilds the registry from the built-in tables (when they were
// loaded) and the configured directory.
func (r *DefaultRegistry) Reload() error {
	if r.dir == "" && !r.withBuiltin {
		return fmt.Errorf("no directory configured for reload")
	}

	fresh := NewRegistry()
	if r.withBuiltin {
		if err := fresh.LoadBuiltin(); err != nil {
			return err
		}
	}
	if r.dir != "" {
		if err := fresh.LoadDirectory(r.dir); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.rules = fresh.rules
	r.nextOrder = fresh.nextOrder
	r.mu.Unlock()
	return nil
}

// SetOnChange sets a callback called after the watched directory changed
// and the registry was reloaded. event is "create", "modify" or "remove".
func (r *DefaultRegistry) SetOnChange(fn func(event string, path string)) {
	r.onChange = fn
}

// Watch starts watching the rule directory for changes.
func (r *DefaultRegistry) Watch() error {
	if r.dir == "" {
		return fmt.Errorf("no directory configured for watching")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	r.watcher = watcher
	r.stopChan = make(chan struct{})

	go r.watchLoop(watcher, r.stopChan)

	if err := watcher.Add(r.dir); err != nil {
		r.watcher.Close()
		return fmt.Errorf("watching directory %s: %w", r.dir, err)
	}

	return nil
}

// watchLoop handles file system events.
func (r *DefaultRegistry) watchLoop(watcher *fsnotify.Watcher, stopChan chan struct{}) {
	for {
		select {
		case <-stopChan:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isRuleFile(event.Name) {
				continue
			}

			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				r.handleChange(event.Name, "create")
			case event.Op&fsnotify.Write == fsnotify.Write:
				r.handleChange(event.Name, "modify")
			case event.Op&fsnotify.Remove == fsnotify.Remove,
				event.Op&fsnotify.Rename == fsnotify.Rename:
				r.handleChange(event.Name, "remove")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("dir", r.dir).Msg("rule watcher error")
		}
	}
}

// handleChange reloads everything so removed or renamed rules disappear
// along with their file.
func (r *DefaultRegistry) handleChange(path string, eventType string) {
	if err := r.Reload(); err != nil {
		log.Warn().Err(err).Str("file", path).Str("event", eventType).Msg("rule reload failed, keeping previous rules")
		return
	}
	log.Info().Str("file", path).Str("event", eventType).Int("rules", r.Count()).Msg("rules reloaded")

	if r.onChange != nil {
		r.onChange(eventType, path)
	}
}

// StopWatch stops watching the rule directory.
func (r *DefaultRegistry) StopWatch() {
	if r.stopChan != nil {
		close(r.stopChan)
		r.stopChan = nil
	}
	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}
}

func isRuleFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func describeSource(source string) string {
	if source == "" {
		return "code"
	}
	return source
}

// sortCascade orders generic rules before entity rules, then by priority,
// then by registration order.
func sortCascade(rules []*BoundaryRule) {
	sort.SliceStable(rules, func(left, right int) bool {
		leftRule, rightRule := rules[left], rules[right]
		if leftRule.IsGeneric() != rightRule.IsGeneric() {
			return leftRule.IsGeneric()
		}
		if leftRule.Priority != rightRule.Priority {
			return leftRule.Priority < rightRule.Priority
		}
		return leftRule.order < rightRule.order
	})
}
