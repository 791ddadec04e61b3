// ABOUTME: Strategy runtime: plug-in contract, registry, and parameter validation
// ABOUTME: Strategies read the cluster model and metrics, then populate a Solution

package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/openstack/watcher-sub000/datasource"
	"github.com/openstack/watcher-sub000/models"
)

var validate = validator.New()

// Context is everything the runtime binds to one strategy run: a
// read-only view of the cluster models, a metric router ordered by the
// strategy's preference, the validated input parameters, and the empty
// Solution the strategy mutates.
type Context struct {
	Model    *models.ComputeModel
	Storage  *models.StorageModel
	Router   *datasource.Router
	Params   map[string]any
	Solution *models.Solution
}

// Strategy is the three-stage plug-in contract. PreExecute validates
// inputs and warms up; DoExecute runs the algorithm; PostExecute
// finalizes efficacy indicators. A failure at any stage fails the audit
// and discards any partial solution.
type Strategy interface {
	Name() string
	DisplayName() string

	// RequiredMetrics lists the metric aliases the strategy consumes;
	// the engine checks datasource coverage before running it.
	RequiredMetrics() []string

	// DatasourcePreference orders providers for this strategy; empty
	// means the configured order.
	DatasourcePreference() []string

	// ParameterSpec describes the accepted input parameters.
	ParameterSpec() map[string]ParameterDesc

	PreExecute(ctx context.Context, sc *Context) error
	DoExecute(ctx context.Context, sc *Context) error
	PostExecute(ctx context.Context, sc *Context) error
}

// ParameterDesc documents one input parameter for API consumers.
type ParameterDesc struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

var registry = map[string]func() Strategy{}

// Register adds a strategy factory under its unique name. Called from
// init functions; duplicate names panic at startup.
func Register(name string, factory func() Strategy) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = factory
}

// New instantiates the named strategy.
func New(name string) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, models.NotFound("strategy", name)
	}
	return factory(), nil
}

// Names returns the registered strategy names, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// decodeParams fills a typed parameter struct from the raw audit
// parameters and validates it. The struct's json tags and validate tags
// drive both steps.
func decodeParams(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return models.Invalid("encoding strategy parameters: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return models.Invalid("decoding strategy parameters: %v", err)
	}
	if err := validate.Struct(out); err != nil {
		return models.Invalid("validating strategy parameters: %v", err)
	}
	return nil
}
