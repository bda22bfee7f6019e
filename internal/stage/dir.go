package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lucasnoah/mailgate/internal/handoff"
	"github.com/lucasnoah/mailgate/internal/orchestrator"
	"github.com/lucasnoah/mailgate/internal/pipeline"
)

// DirCollaborator reads pre-produced payloads from a directory. The first
// attempt of a stage reads <Stage>.json; retries read <Stage>.retry.json
// when present and fall back to <Stage>.json.
type DirCollaborator struct {
	dir string
}

// NewDirCollaborator returns a collaborator reading from dir.
func NewDirCollaborator(dir string) *DirCollaborator {
	return &DirCollaborator{dir: dir}
}

// Produce loads the payload file for the requested stage and attempt.
func (d *DirCollaborator) Produce(ctx context.Context, req orchestrator.StageRequest) (handoff.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Iteration > 0 {
		p, err := handoff.ReadPayloadFile(d.path(req.Stage, true))
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	p, err := handoff.ReadPayloadFile(d.path(req.Stage, false))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("no payload for stage %s in %s", req.Stage, d.dir)
	}
	return p, err
}

// TraceID returns the trace_id stamped on the first stage's payload, or ""
// when the directory has no such payload.
func (d *DirCollaborator) TraceID() (string, error) {
	p, err := handoff.ReadPayloadFile(d.path(handoff.Stages[0], false))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	id, _ := p.String("trace_id")
	return id, nil
}

func (d *DirCollaborator) path(s handoff.Stage, retry bool) string {
	name := string(s) + ".json"
	if retry {
		name = string(s) + ".retry.json"
	}
	return filepath.Join(d.dir, name)
}

// WriteFixtures fills dir with a valid payload for every producing stage,
// keyed by traceID. Existing files are overwritten.
func WriteFixtures(dir, traceID string, produce func(handoff.Stage, string) handoff.Payload) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	var written []string
	for _, s := range handoff.Stages {
		if _, ok := handoff.TransitionFor(s); !ok {
			continue
		}
		path := filepath.Join(dir, string(s)+".json")
		if err := pipeline.WriteJSON(path, produce(s, traceID)); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
