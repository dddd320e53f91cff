package harness

import "github.com/hashicorp/go-hclog"

// getOpts - iterate the inbound Options and return a struct
func getOpts(opt ...Option) options {
	opts := getDefaultOptions()
	for _, o := range opt {
		o(&opts)
	}
	return opts
}

// Option - how Options are passed as arguments
type Option func(*options)

type options struct {
	withLogger   hclog.Logger
	withScenario string
}

func getDefaultOptions() options {
	return options{
		withLogger:   hclog.NewNullLogger(),
		withScenario: "unnamed",
	}
}

// WithLogger sets the logger the orchestrator reports progress to.
func WithLogger(l hclog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.withLogger = l
		}
	}
}

// WithScenario names the run in logs and in the report.
func WithScenario(name string) Option {
	return func(o *options) {
		o.withScenario = name
	}
}
