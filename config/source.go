// Package config merges configuration sources by priority and decodes the
// result with viper.
package config

// ConfigSource yields flat, dot-separated configuration keys
type ConfigSource interface {
	Name() string

	// Priority orders sources; higher values override lower ones.
	// Files use 10, environment variables 50.
	Priority() int

	Load() (map[string]interface{}, error)
}

// Validator is implemented by component configs
type Validator interface {
	Validate() error
}

// ValidateAll returns the first validation failure
func ValidateAll(validators ...Validator) error {
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
