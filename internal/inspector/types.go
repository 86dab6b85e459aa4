package inspector

import (
	"fmt"
	"time"
)

// RPC method names served by the inspector backend.
const (
	MethodGetPayload  = "getPayload"
	MethodGetMetadata = "getMetadata"
)

// Mode is the operating mode of the tool.
type Mode string

const (
	ModeDev   Mode = "dev"
	ModeProd  Mode = "prod"
	ModeBuild Mode = "build"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDev, ModeProd, ModeBuild:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected dev, prod or build)", s)
	}
}

// Metadata describes the inspected project and the state of the backend.
type Metadata struct {
	Cwd          string    `json:"cwd"`
	Mode         Mode      `json:"mode"`
	Agent        string    `json:"agent,omitempty"`
	Version      string    `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	PayloadReady bool      `json:"payloadReady"`
	PackageCount int       `json:"packageCount"`
}

// Payload is the full snapshot of installed packages.
type Payload struct {
	Cwd       string         `json:"cwd"`
	Timestamp time.Time      `json:"timestamp"`
	Packages  []*PackageNode `json:"packages"`
}

// PackageNode is one installed copy of a package.
type PackageNode struct {
	Spec                 string            `json:"spec"`
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Path                 string            `json:"filepath"`
	Depth                int               `json:"depth"`
	License              string            `json:"license,omitempty"`
	Private              bool              `json:"private,omitempty"`
	Dependencies         map[string]string `json:"dependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty"`
	Resolved             *NpmMeta          `json:"resolved,omitempty"`
	Publint              []PublintMessage  `json:"publint,omitempty"`
}

// NpmMeta is registry metadata cached for a package version.
type NpmMeta struct {
	PublishedAt time.Time         `json:"publishedAt"`
	Deprecated  string            `json:"deprecated,omitempty"`
	Engines     map[string]string `json:"engines,omitempty"`
}

// PublintMessage is one lint finding cached for a package version.
type PublintMessage struct {
	Code string                 `json:"code"`
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// PayloadParams are the optional parameters of getPayload.
type PayloadParams struct {
	Force bool `json:"force,omitempty"`
}
