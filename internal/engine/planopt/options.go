package planopt

import "github.com/kode4food/conductor/pkg/api"

type (
	// Options contains optional parameters for starting a plan execution
	Options struct {
		ExecutionID     api.PlanExecutionID
		Setup           map[string]string
		ExpressionToken int64
	}

	// Applier mutates Options during StartPlan setup
	Applier func(*Options)
)

// DefaultOptions returns an Options instance with defaults applied. A
// random execution id is generated unless one is supplied
func DefaultOptions(apps ...Applier) *Options {
	opt := &Options{
		Setup: map[string]string{},
	}
	ApplyOptions(opt, apps...)
	if opt.ExecutionID == "" {
		opt.ExecutionID = api.NewID[api.PlanExecutionID]()
	}
	return opt
}

// ApplyOptions applies option appliers in order
func ApplyOptions(opt *Options, apps ...Applier) {
	for _, app := range apps {
		app(opt)
	}
}

// WithExecutionID sets the plan execution id
func WithExecutionID(id api.PlanExecutionID) Applier {
	return func(opt *Options) {
		opt.ExecutionID = id
	}
}

// WithSetup sets the root setup abstractions
func WithSetup(setup map[string]string) Applier {
	return func(opt *Options) {
		if setup != nil {
			opt.Setup = setup
		}
	}
}

// WithExpressionToken sets the root expression functor token
func WithExpressionToken(token int64) Applier {
	return func(opt *Options) {
		opt.ExpressionToken = token
	}
}
