package validation

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// Validation constants
	MaxMembers       = 50
	MaxHostLength    = 255
	MinSecretLength  = 32
	MaxBatchSize     = 4096
	MinBatchSize     = 1

	// Regular expressions
	hostPattern = regexp.MustCompile(`^[a-zA-Z0-9.\-]+:[0-9]+$`)
	nsPattern   = regexp.MustCompile(`^[a-z][a-z0-9]*\.[a-zA-Z0-9_.]+$`)
)

func init() {
	validate = validator.New()
}

// MemberRequest describes one replica-set member in the node config.
type MemberRequest struct {
	ID   string `json:"id" yaml:"id" validate:"omitempty,max=64"`
	Host string `json:"host" yaml:"host" validate:"required,max=255"`
}

// ReplicaRequest is the replication section of the node config.
type ReplicaRequest struct {
	DataDir    string          `json:"dataDir" yaml:"data_dir" validate:"required"`
	FeedAddr   string          `json:"feedAddr" yaml:"feed_addr" validate:"required"`
	FeedSecret string          `json:"feedSecret" yaml:"feed_secret" validate:"required,min=32"`
	Members    []MemberRequest `json:"members" yaml:"members" validate:"required,min=1,max=50,dive"`
}

// ValidateReplicaRequest validates the replication section of a node
// config.
func ValidateReplicaRequest(req *ReplicaRequest) error {
	if req == nil {
		return errors.New("replica config cannot be nil")
	}

	// Validate using struct tags
	if err := validate.Struct(req); err != nil {
		return formatValidationError(err)
	}

	if len(req.Members) > MaxMembers {
		return fmt.Errorf("Members: maximum %d members allowed, got %d", MaxMembers, len(req.Members))
	}

	seen := make(map[string]bool, len(req.Members))
	for i, m := range req.Members {
		if err := ValidateHost(m.Host); err != nil {
			return fmt.Errorf("Members: member at index %d: %w", i, err)
		}
		if seen[m.Host] {
			return fmt.Errorf("Members: duplicate host '%s'", m.Host)
		}
		seen[m.Host] = true
	}

	return nil
}

// ValidateHost validates a member host in host:port form.
func ValidateHost(host string) error {
	if host == "" {
		return errors.New("host cannot be empty")
	}
	if len(host) > MaxHostLength {
		return fmt.Errorf("host '%s' exceeds maximum length of %d characters", host, MaxHostLength)
	}
	if !hostPattern.MatchString(host) {
		return fmt.Errorf("host '%s' is invalid (expected host:port)", host)
	}
	return nil
}

// ValidateNamespace validates an oplog namespace name.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return errors.New("namespace cannot be empty")
	}
	if !nsPattern.MatchString(ns) {
		return fmt.Errorf("namespace '%s' is invalid (expected db.collection)", ns)
	}
	return nil
}

// ValidateBatchSize validates a fetch batch size.
func ValidateBatchSize(size int) error {
	if size < MinBatchSize {
		return fmt.Errorf("batch size must be at least %d, got %d", MinBatchSize, size)
	}
	if size > MaxBatchSize {
		return fmt.Errorf("batch size must not exceed %d, got %d", MaxBatchSize, size)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	// Return the first validation error in a user-friendly format
	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()

		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "dive":
			// For array elements
			return fmt.Errorf("%s: invalid element in array", field)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}

	return err
}
