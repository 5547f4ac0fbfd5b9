package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures deep inside a pipeline run.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir is required")
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir is required")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return fmt.Errorf("workflow.queue_poll_interval must be positive, got %d", c.Workflow.QueuePollInterval)
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return fmt.Errorf("workflow.error_retry_interval must be positive, got %d", c.Workflow.ErrorRetryInterval)
	}
	if c.Workflow.WorkerCount <= 0 {
		return fmt.Errorf("workflow.worker_count must be positive, got %d", c.Workflow.WorkerCount)
	}
	if c.Workflow.StepTimeout <= 0 {
		return fmt.Errorf("workflow.step_timeout must be positive, got %d", c.Workflow.StepTimeout)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.SignExpiry <= 0 {
		return fmt.Errorf("storage.sign_expiry must be positive, got %d", c.Storage.SignExpiry)
	}
	if c.Storage.SignCacheTTL <= 0 {
		return fmt.Errorf("storage.sign_cache_ttl must be positive, got %d", c.Storage.SignCacheTTL)
	}
	// The cache must drop entries before the signing service does, or callers
	// receive URLs that expire mid-use.
	if c.Storage.SignCacheTTL >= c.Storage.SignExpiry {
		return fmt.Errorf("storage.sign_cache_ttl (%d) must be below storage.sign_expiry (%d)", c.Storage.SignCacheTTL, c.Storage.SignExpiry)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
