package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Loader merges sources, lowest priority first
type Loader struct {
	sources     []ConfigSource
	merged      map[string]interface{}
	v           *viper.Viper
	loadedFiles []string
}

// NewLoader creates an empty loader
func NewLoader() *Loader {
	return &Loader{merged: make(map[string]interface{}), v: viper.New()}
}

// AddSource adds a source
func (l *Loader) AddSource(source ConfigSource) {
	l.sources = append(l.sources, source)
}

// Load reads every source and merges the results
func (l *Loader) Load() error {
	sort.SliceStable(l.sources, func(i, j int) bool {
		return l.sources[i].Priority() < l.sources[j].Priority()
	})

	l.merged = make(map[string]interface{})
	l.loadedFiles = l.loadedFiles[:0]
	for _, source := range l.sources {
		data, err := source.Load()
		if err != nil {
			return fmt.Errorf("load source %s: %w", source.Name(), err)
		}
		if fs, ok := source.(*FileSource); ok && len(data) > 0 {
			l.loadedFiles = append(l.loadedFiles, fs.path)
		}
		for key, value := range data {
			l.merged[key] = value
		}
	}

	l.v = viper.New()
	for key, value := range unflatten(l.merged) {
		l.v.Set(key, value)
	}
	return nil
}

func unflatten(flat map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for key, value := range flat {
		parts := strings.Split(key, ".")
		current := result
		for _, p := range parts[:len(parts)-1] {
			next, ok := current[p].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				current[p] = next
			}
			current = next
		}
		current[parts[len(parts)-1]] = value
	}
	return result
}

// Unmarshal decodes the merged configuration using mapstructure tags
func (l *Loader) Unmarshal(v interface{}) error {
	return l.v.Unmarshal(v)
}

// Get returns one value
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// IsSet reports whether key is present
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// LoadedFiles lists the files that contributed keys
func (l *Loader) LoadedFiles() []string {
	return append([]string(nil), l.loadedFiles...)
}

// Load builds a loader over an optional file and an env prefix and loads it
func Load(path, envPrefix string) (*Loader, error) {
	l := NewLoader()
	if path != "" {
		l.AddSource(NewFileSource(path, 10, true))
	}
	if envPrefix != "" {
		l.AddSource(NewEnvSource(envPrefix, 50))
	}
	if err := l.Load(); err != nil {
		return nil, err
	}
	return l, nil
}
