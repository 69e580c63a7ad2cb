package model

import "io"

// ContainerSpec describes a single container to run, holding only the
// knobs the Silk images need.
type ContainerSpec struct {
	Image       string
	Name        string // empty => engine assigned
	Cmd         []string
	Env         []string
	Mounts      []Mount
	HostNetwork bool
	Labels      map[string]string

	// Stdout and Stderr receive the demuxed container output of
	// foreground runs. Nil writers discard.
	Stdout io.Writer
	Stderr io.Writer
}

// Mount is a host directory bind mounted into the container.
type Mount struct {
	Source   string // absolute host path
	Target   string
	ReadOnly bool
}

type ContainerState string

const (
	ContainerRunning ContainerState = "running"
	ContainerExited  ContainerState = "exited"
	ContainerCreated ContainerState = "created"
	ContainerPaused  ContainerState = "paused"
)

func (s ContainerState) Running() bool {
	return s == ContainerRunning
}

// ContainerInfo is the engine view of an existing container.
type ContainerInfo struct {
	ID    string
	Name  string
	Image string
	State ContainerState
}
