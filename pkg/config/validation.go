package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks a loaded configuration for structural errors.
//
// Struct tags cover field-level constraints (required values, ranges,
// enumerations). Cross-field rules that tags cannot express are checked
// explicitly afterwards:
//   - flusher.max_workers must be >= flusher.core_workers
//   - remote.s3.bucket is required when remote.type is "s3"
//   - every configured replica must have an address and a non-negative tag
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Flusher.MaxWorkers < cfg.Flusher.CoreWorkers {
		return fmt.Errorf("invalid configuration: flusher.max_workers (%d) must be >= flusher.core_workers (%d)",
			cfg.Flusher.MaxWorkers, cfg.Flusher.CoreWorkers)
	}

	if cfg.Remote.Type == "s3" && cfg.Remote.S3.Bucket == "" {
		return errors.New("invalid configuration: remote.s3.bucket is required when remote.type is \"s3\"")
	}

	return validateRouting(&cfg.Routing)
}

func validateRouting(cfg *RoutingConfig) error {
	for volume, replicas := range cfg.Volumes {
		if len(replicas) == 0 {
			return fmt.Errorf("invalid configuration: routing.volumes[%q] has no replicas", volume)
		}
		for i, r := range replicas {
			if r.Address == "" {
				return fmt.Errorf("invalid configuration: routing.volumes[%q] replica %d has no address", volume, i)
			}
			if r.Tag < 0 {
				return fmt.Errorf("invalid configuration: routing.volumes[%q] replica %d has negative tag %d", volume, i, r.Tag)
			}
		}
	}
	return nil
}
