package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Remote is one named mdbd server mdbctl can sync against.
type Remote struct {
	ServerAddr string `yaml:"server_addr"`
	DBID       string `yaml:"db_id"`
}

// RemotesFile is the root of a remotes.yaml registry, keyed by short name
// (e.g. "origin", "laptop") the way the teacher's namespace.SourcesConfig
// keys project sources by project name.
type RemotesFile struct {
	Remotes map[string]Remote `yaml:"remotes"`
}

// LoadRemotesFile loads path, returning an empty registry if it doesn't
// exist yet.
func LoadRemotesFile(path string) (*RemotesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RemotesFile{Remotes: make(map[string]Remote)}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	rf := &RemotesFile{Remotes: make(map[string]Remote)}
	if err := yaml.Unmarshal(data, rf); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if rf.Remotes == nil {
		rf.Remotes = make(map[string]Remote)
	}
	return rf, nil
}

// Save writes the registry back to path.
func (rf *RemotesFile) Save(path string) error {
	data, err := yaml.Marshal(rf)
	if err != nil {
		return fmt.Errorf("config: marshal remotes: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Put adds or replaces the remote named name.
func (rf *RemotesFile) Put(name string, r Remote) {
	if rf.Remotes == nil {
		rf.Remotes = make(map[string]Remote)
	}
	rf.Remotes[name] = r
}

// Get looks up a named remote.
func (rf *RemotesFile) Get(name string) (Remote, error) {
	r, ok := rf.Remotes[name]
	if !ok {
		return Remote{}, fmt.Errorf("config: remote %q not found", name)
	}
	return r, nil
}

// Remove deletes a named remote, erroring if it isn't registered.
func (rf *RemotesFile) Remove(name string) error {
	if _, ok := rf.Remotes[name]; !ok {
		return fmt.Errorf("config: remote %q not found", name)
	}
	delete(rf.Remotes, name)
	return nil
}
