package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
)

// UnknownJobError is the fatal dispatch error for a job name with no
// registered processor.
type UnknownJobError struct {
	Name string
}

func (e *UnknownJobError) Error() string {
	return "Unknown job name: " + e.Name
}

// ProcessorFunc executes one job. Its return value becomes the job's
// result; a returned error marks the job failed with that error's message.
type ProcessorFunc func(ctx context.Context, jobID string, payload any) (any, error)

type jobSpec struct {
	newPayload func() any
	process    ProcessorFunc
}

// Dispatcher validates and routes job payloads to registered processors.
// Payload schemas are plain structs with validator tags, keyed by job name.
type Dispatcher struct {
	validate *validator.Validate
	specs    map[string]jobSpec
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		specs:    make(map[string]jobSpec),
		logger:   logger,
	}
}

// Register binds a job name to its payload schema and processor.
// newPayload must return a pointer to a fresh payload struct; the
// dispatcher decodes and validates into it before invoking process.
// Registering a name twice panics: the registry is assembled once at startup.
func (d *Dispatcher) Register(name string, newPayload func() any, process ProcessorFunc) {
	if _, dup := d.specs[name]; dup {
		panic(fmt.Sprintf("worker: duplicate processor for job %q", name))
	}
	d.specs[name] = jobSpec{newPayload: newPayload, process: process}
}

// Names returns the registered job names, for diagnostics.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.specs))
	for name := range d.specs {
		names = append(names, name)
	}
	return names
}

// Dispatch validates data against the schema registered for name and
// invokes the matching processor. An unregistered name is a fatal
// dispatch error; a schema violation fails the job without invoking the
// processor.
func (d *Dispatcher) Dispatch(ctx context.Context, jobID, name string, data json.RawMessage) (any, error) {
	spec, ok := d.specs[name]
	if !ok {
		return nil, &UnknownJobError{Name: name}
	}

	payload := spec.newPayload()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("worker: decode %s payload: %w", name, err)
	}
	if err := d.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("worker: validate %s payload: %w", name, err)
	}

	return spec.process(ctx, jobID, payload)
}
