package explorer

import (
	"time"

	"github.com/PentesterFlow/OpenExplorer/internal/browser"
	"github.com/PentesterFlow/OpenExplorer/internal/llm"
	"github.com/PentesterFlow/OpenExplorer/internal/logger"
	"github.com/PentesterFlow/OpenExplorer/internal/metrics"
	"github.com/PentesterFlow/OpenExplorer/internal/state"
)

// Option is a functional option for configuring the Explorer.
type Option func(*Explorer) error

// WithConfig replaces the whole configuration. Apply it before other
// options.
func WithConfig(config *Config) Option {
	return func(e *Explorer) error {
		e.config = config.Clone()
		return nil
	}
}

// WithTask sets the task given to the decision provider.
func WithTask(task string) Option {
	return func(e *Explorer) error {
		e.config.Task = task
		return nil
	}
}

// WithURL sets the starting URL.
func WithURL(url string) Option {
	return func(e *Explorer) error {
		e.config.URL = url
		return nil
	}
}

// WithHeadless runs the browser without a window. Login pages then end the
// run instead of pausing it.
func WithHeadless(headless bool) Option {
	return func(e *Explorer) error {
		e.config.Browser.Headless = headless
		return nil
	}
}

// WithMaxSteps sets the step budget.
func WithMaxSteps(n int) Option {
	return func(e *Explorer) error {
		if n < 1 {
			n = 1
		}
		e.config.MaxSteps = n
		return nil
	}
}

// WithMaxLoginPauses sets how many times a run may pause for a login.
func WithMaxLoginPauses(n int) Option {
	return func(e *Explorer) error {
		if n < 0 {
			n = 0
		}
		e.config.MaxLoginPauses = n
		return nil
	}
}

// WithLoginTimeout sets how long each login pause may last.
func WithLoginTimeout(d time.Duration) Option {
	return func(e *Explorer) error {
		e.config.LoginTimeout = d
		return nil
	}
}

// WithSessionsDir sets where session bundles are written.
func WithSessionsDir(dir string) Option {
	return func(e *Explorer) error {
		e.config.SessionsDir = dir
		return nil
	}
}

// WithChromePath uses a specific Chrome binary.
func WithChromePath(path string) Option {
	return func(e *Explorer) error {
		e.config.Browser.ChromePath = path
		return nil
	}
}

// WithProfileDir keeps cookies and storage in dir across runs.
func WithProfileDir(dir string) Option {
	return func(e *Explorer) error {
		e.config.Browser.ProfileDir = dir
		return nil
	}
}

// WithPromptPath overrides the built-in system prompt.
func WithPromptPath(path string) Option {
	return func(e *Explorer) error {
		e.config.PromptPath = path
		return nil
	}
}

// WithModel selects the decision model.
func WithModel(model string) Option {
	return func(e *Explorer) error {
		e.config.LLM.Model = model
		return nil
	}
}

// WithVerbose enables verbose logging.
func WithVerbose(verbose bool) Option {
	return func(e *Explorer) error {
		e.config.Verbose = verbose
		return nil
	}
}

// WithDebug enables debug mode.
func WithDebug(debug bool) Option {
	return func(e *Explorer) error {
		e.config.Debug = debug
		return nil
	}
}

// WithDriver supplies the browser instead of launching Chrome.
func WithDriver(d Driver) Option {
	return func(e *Explorer) error {
		e.launch = func(browser.Config, *logger.Logger) (Driver, error) { return d, nil }
		return nil
	}
}

// WithLauncher replaces how the browser is started.
func WithLauncher(fn Launcher) Option {
	return func(e *Explorer) error {
		e.launch = fn
		return nil
	}
}

// WithDecider supplies the decision provider.
func WithDecider(d llm.Decider) Option {
	return func(e *Explorer) error {
		e.decider = d
		return nil
	}
}

// WithDetector replaces the login page detector.
func WithDetector(d LoginDetector) Option {
	return func(e *Explorer) error {
		e.detector = d
		return nil
	}
}

// WithWatcher replaces the login completion watcher.
func WithWatcher(w LoginWatcher) Option {
	return func(e *Explorer) error {
		e.watcher = w
		return nil
	}
}

// WithStore records sessions in an index.
func WithStore(s state.Store) Option {
	return func(e *Explorer) error {
		e.store = s
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Explorer) error {
		e.logger = l
		return nil
	}
}

// WithMetrics sets a custom metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Explorer) error {
		e.metrics = m
		return nil
	}
}
