package model

import "context"

// Artifact is a produced Turtle document together with its destination
// hints: the file name inside the links directory and an optional named
// graph for the triple store.
type Artifact struct {
	Job   string
	Name  string
	Graph string
	Data  []byte
}

type Publisher interface {
	Publish(ctx context.Context, artifact Artifact) error
}

type PublishCloser interface {
	Publisher
	Close() error
}
