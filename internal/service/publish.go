package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/fuseki"
	"github.com/nghianinhnb/semantic-web-football-kg/internal/model"
)

// publishers builds the publisher chain from the configuration. The
// links directory is always written, a timestamped archive and the
// Fuseki upload are optional.
func publishers(_ context.Context, cfg model.Config) ([]model.Publisher, error) {
	file, err := NewFilePublisher(cfg.Links)
	if err != nil {
		return nil, err
	}
	list := []model.Publisher{file}

	if dir := cfg.Service.Dir; dir != nil && *dir != "" {
		archive, err := NewArchivePublisher(*dir)
		if err != nil {
			return nil, err
		}
		list = append(list, archive)
	}

	if model.Enabled(cfg.Fuseki.Enabled, true) {
		client, err := fuseki.New(cfg.Fuseki)
		if err != nil {
			return nil, err
		}
		list = append(list, FusekiPublisher{client: client})
	}
	return list, nil
}

// WritePublisher dumps the Turtle to a writer, os.Stdout when nil.
type WritePublisher struct {
	w io.Writer
}

func NewWritePublisher(w io.Writer) WritePublisher {
	return WritePublisher{w: w}
}

func (p WritePublisher) Publish(_ context.Context, artifact model.Artifact) error {
	if p.w == nil {
		p.w = os.Stdout
	}
	_, err := p.w.Write(artifact.Data)
	return err
}

// FilePublisher writes each artifact under the links directory, next
// to the alignment it was generated from.
type FilePublisher struct {
	root *os.Root
}

func NewFilePublisher(dir string) (*FilePublisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating links directory: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &FilePublisher{root: root}, nil
}

func (p *FilePublisher) Publish(ctx context.Context, artifact model.Artifact) error {
	if p.root == nil {
		return errors.New("publisher already closed")
	}

	f, err := p.root.Create(artifact.Name)
	if err != nil {
		return fmt.Errorf("creating sameas file: %w", err)
	}
	_, err = f.Write(artifact.Data)
	if err != nil {
		return fmt.Errorf("saving sameas file: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing sameas file: %w", err)
	}
	slog.InfoContext(ctx, "sameas links saved", "path", artifact.Name)
	return nil
}

func (p *FilePublisher) Close() error {
	if p.root == nil {
		return errors.New("publisher already closed")
	}
	err := p.root.Close()
	p.root = nil
	return err
}

// ArchivePublisher keeps a timestamped copy of every published
// artifact, so consecutive runs do not overwrite each other.
type ArchivePublisher struct {
	root *os.Root
}

func NewArchivePublisher(dir string) (*ArchivePublisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &ArchivePublisher{root: root}, nil
}

func (p *ArchivePublisher) Publish(ctx context.Context, artifact model.Artifact) error {
	if p.root == nil {
		return errors.New("publisher already closed")
	}

	path := artifact.Job + "-" + time.Now().Format("2006-01-02-15-04-05") + ".ttl"

	f, err := p.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive copy: %w", err)
	}
	_, err = f.Write(artifact.Data)
	if err != nil {
		return fmt.Errorf("saving archive copy: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing archive copy: %w", err)
	}
	slog.InfoContext(ctx, "sameas links archived", "path", path)
	return nil
}

func (p *ArchivePublisher) Close() error {
	if p.root == nil {
		return errors.New("publisher already closed")
	}
	err := p.root.Close()
	p.root = nil
	return err
}

// FusekiPublisher uploads the Turtle into the configured dataset,
// creating it first when missing.
type FusekiPublisher struct {
	client *fuseki.Client
}

func NewFusekiPublisher(client *fuseki.Client) FusekiPublisher {
	return FusekiPublisher{client: client}
}

func (p FusekiPublisher) Publish(ctx context.Context, artifact model.Artifact) error {
	if err := p.client.EnsureDataset(ctx); err != nil {
		return err
	}
	if err := p.client.LoadTTL(ctx, artifact.Graph, artifact.Data); err != nil {
		return err
	}
	slog.InfoContext(ctx, "sameas links uploaded",
		"dataset", p.client.DatasetURL(), "graph", artifact.Graph)
	return nil
}
