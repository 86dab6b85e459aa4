package inspector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// manifest is the subset of package.json the inspector reads.
type manifest struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Private              bool              `json:"private"`
	License              json.RawMessage   `json:"license"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	Engines              map[string]string `json:"engines"`
	Deprecated           string            `json:"deprecated"`
}

func readManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil, err
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid package.json in %s: %w", dir, err)
	}
	return &m, nil
}

// license accepts both the SPDX string form and the legacy {"type": ...} object.
func (m *manifest) license() string {
	if len(m.License) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(m.License, &s); err == nil {
		return s
	}

	var legacy struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(m.License, &legacy); err == nil {
		return legacy.Type
	}
	return ""
}

// npmMeta is the registry metadata the manifest itself carries, nil when it
// carries none.
func (m *manifest) npmMeta() *NpmMeta {
	if len(m.Engines) == 0 && m.Deprecated == "" {
		return nil
	}
	return &NpmMeta{Deprecated: m.Deprecated, Engines: m.Engines}
}
