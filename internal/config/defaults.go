// Package config provides configuration loading and defaults for railscope.
package config

import "time"

// DefaultConfigDir is the default location for railscope configuration.
const DefaultConfigDir = "~/.config/railscope"

// DefaultDBName is the filename for the SQLite session database.
const DefaultDBName = "railscope.db"

// DefaultProjectFile is the project-local configuration filename.
const DefaultProjectFile = ".railscope.toml"

// DefaultPolicy holds the shipped thresholds, capacities, and weights.
var DefaultPolicy = Policy{
	SlowQueryMs:     100,
	VerySlowQueryMs: 500,
	CriticalQueryMs: 1000,
	MissingIndexMs:  50,

	NPlusOneThreshold: 3,

	FingerprintCap:     1000,
	EndpointCap:        500,
	ContextRetention:   100,
	MetricRingCapacity: 512,
	ExceptionGroupCap:  500,

	SampleInterval: 2 * time.Second,
	StopGrace:      5 * time.Second,

	Weights: Weights{
		Low:      1,
		Medium:   5,
		High:     10,
		Critical: 20,
	},
}

// DefaultOutput holds the default output preferences.
var DefaultOutput = Output{
	Color: true,
	Width: 100,
}

// DefaultCriticalExceptions are classes always classified Critical:
// data-integrity and security failures.
var DefaultCriticalExceptions = []string{
	"ActiveRecord::RecordNotUnique",
	"ActiveRecord::StatementInvalid",
	"SecurityError",
	"NoMemoryError",
	"SystemStackError",
}

// DefaultLowExceptions are routine framework errors downgraded to Low.
var DefaultLowExceptions = []string{
	"ActiveRecord::RecordNotFound",
	"ActionController::RoutingError",
}
