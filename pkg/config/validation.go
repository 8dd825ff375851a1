package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration for errors.
//
// Struct-level constraints are declared as `validate` tags on the config
// types; this function adds the cross-field checks the tags cannot express.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describeFieldError(fe))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.ISCSI.PortalIP != "" && net.ParseIP(cfg.ISCSI.PortalIP) == nil {
		return fmt.Errorf("invalid configuration: iscsi.portal_ip %q is not a valid IP address", cfg.ISCSI.PortalIP)
	}
	if cfg.Session.ServerIP != "" && net.ParseIP(cfg.Session.ServerIP) == nil {
		return fmt.Errorf("invalid configuration: session.server_ip %q is not a valid IP address", cfg.Session.ServerIP)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.API.Port {
		return fmt.Errorf("invalid configuration: metrics.port and api.port must differ (both %d)", cfg.Metrics.Port)
	}

	return nil
}

// describeFieldError renders a single field error in config-file terms.
func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", fe.Namespace(), fe.Param(), fe.Value())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Namespace(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Namespace(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Namespace(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag())
	}
}
