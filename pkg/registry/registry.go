// Package registry holds the node template palette and builds nodes from workflow definitions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"sort"
	"strings"
	"sync"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/cortexbuild/cortexflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

var ErrUnknownTemplate = errors.New("unknown node template")

// ConfigError lists the reasons a node configuration was rejected.
type ConfigError struct {
	NodeID   string
	Template string
	Messages []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("node %s (%s): %s", e.NodeID, e.Template, strings.Join(e.Messages, "; "))
}

type entry struct {
	factory protocol.NodeFactory
	schema  *gojsonschema.Schema
}

type Registry struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:  log.With("module", "registry"),
		entries: make(map[string]entry),
	}
}

// Register adds a template. Registering an existing id replaces it.
func (r *Registry) Register(factory protocol.NodeFactory) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(factory.Schema()))
	if err != nil {
		return fmt.Errorf("invalid schema for template %s: %w", factory.ID(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[factory.ID()] = entry{factory: factory, schema: schema}

	r.logger.Debug("Registered node template", "template", factory.ID(), "type", factory.Type())

	return nil
}

func (r *Registry) lookup(template string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[template]

	return e, ok
}

// Templates returns the palette ordered by node type then template id.
func (r *Registry) Templates() []models.NodeTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	templates := make([]models.NodeTemplate, 0, len(r.entries))
	for _, e := range r.entries {
		templates = append(templates, models.NodeTemplate{
			ID:            e.factory.ID(),
			Type:          e.factory.Type(),
			Title:         e.factory.Name(),
			Description:   e.factory.Description(),
			DefaultConfig: e.factory.DefaultConfig(),
			Schema:        e.factory.Schema(),
		})
	}

	order := map[models.NodeType]int{
		models.NodeTypeTrigger:   0,
		models.NodeTypeAction:    1,
		models.NodeTypeCondition: 2,
		models.NodeTypeDelay:     3,
	}

	sort.Slice(templates, func(i, j int) bool {
		if templates[i].Type != templates[j].Type {
			return order[templates[i].Type] < order[templates[j].Type]
		}

		return templates[i].ID < templates[j].ID
	})

	return templates
}

// DefaultNode returns a node of the given template populated with its default config.
func (r *Registry) DefaultNode(template string) (*models.WorkflowNode, error) {
	e, ok := r.lookup(template)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, template)
	}

	config := map[string]any{}

	err := protocol.DecodeConfig(e.factory.DefaultConfig(), &config)
	if err != nil {
		return nil, err
	}

	return &models.WorkflowNode{
		Type:        e.factory.Type(),
		Template:    template,
		Title:       e.factory.Name(),
		Config:      config,
		Connections: []string{},
	}, nil
}

// Validate checks that the node's type matches its template and that its
// config satisfies the template schema and constructor.
func (r *Registry) Validate(ctx context.Context, node *models.WorkflowNode) error {
	_, err := r.CreateNode(ctx, node)

	return err
}

// CreateNode validates and constructs an executable node.
func (r *Registry) CreateNode(ctx context.Context, node *models.WorkflowNode) (protocol.Node, error) {
	e, ok := r.lookup(node.Template)
	if !ok {
		return nil, &ConfigError{
			NodeID:   node.ID,
			Template: node.Template,
			Messages: []string{ErrUnknownTemplate.Error()},
		}
	}

	if e.factory.Type() != node.Type {
		return nil, &ConfigError{
			NodeID:   node.ID,
			Template: node.Template,
			Messages: []string{fmt.Sprintf("template %s produces %s nodes, not %s", node.Template, e.factory.Type(), node.Type)},
		}
	}

	config := node.Config
	if config == nil {
		config = map[string]any{}
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return nil, &ConfigError{NodeID: node.ID, Template: node.Template, Messages: []string{err.Error()}}
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return nil, &ConfigError{NodeID: node.ID, Template: node.Template, Messages: messages}
	}

	instance, err := e.factory.Create(ctx, node.ID, config)
	if err != nil {
		return nil, &ConfigError{NodeID: node.ID, Template: node.Template, Messages: []string{err.Error()}}
	}

	return instance, nil
}

// LoadPlugins opens every shared object under pluginsPath/nodes and registers
// the NodeFactory each exports as the symbol Node.
func (r *Registry) LoadPlugins(pluginsPath string) error {
	if pluginsPath == "" {
		return nil
	}

	factories, err := loadPlugin[protocol.NodeFactory](r.logger, pluginsPath, "Node")
	if err != nil {
		return err
	}

	for _, factory := range factories {
		err := r.Register(factory)
		if err != nil {
			return err
		}
	}

	return nil
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s has no %s symbol: %w", p, symbolName, err)
		}

		castV, ok := v.(T)
		if !ok {
			ptr, isPtr := v.(*T)
			if !isPtr {
				return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
			}

			castV = *ptr
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded node plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
