// Package archive writes the final snapshot of a finished execution to blob
// storage and reads archived snapshots back.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"labexec/internal/blob"
	"labexec/pkg/domain"
)

const (
	contentType = "application/json"
	rootPrefix  = "executions"
)

// Entry describes one archived snapshot.
type Entry struct {
	Key         string                 `json:"key"`
	StudyID     string                 `json:"study_id"`
	ExecutionID string                 `json:"execution_id"`
	Version     int64                  `json:"version"`
	Status      domain.ExecutionStatus `json:"status,omitempty"`
	Size        int64                  `json:"size_bytes"`
}

// Archiver stores execution snapshots create-only under
// executions/<study>/<execution>/v<version>.json.
type Archiver struct {
	store blob.Store
}

// New returns an archiver writing to store.
func New(store blob.Store) *Archiver {
	return &Archiver{store: store}
}

// Key returns the blob key for one execution version.
func Key(studyID, executionID string, version int64) string {
	return path.Join(rootPrefix, studyID, executionID, "v"+strconv.FormatInt(version, 10)+".json")
}

// Archive writes exec. Archiving the same version twice is a no-op because
// snapshots of one version are identical.
func (a *Archiver) Archive(ctx context.Context, exec domain.Execution) error {
	if exec.ID == "" || exec.StudyID == "" {
		return domain.ValidationError{Field: "execution", Message: "archive requires execution and study ids"}
	}
	payload, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}
	key := Key(exec.StudyID, exec.ID, exec.Version)
	_, err = a.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"execution-id": exec.ID,
			"study-id":     exec.StudyID,
			"status":       string(exec.Status),
			"version":      strconv.FormatInt(exec.Version, 10),
		},
	})
	if errors.Is(err, blob.ErrExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive execution %s: %w", exec.ID, err)
	}
	return nil
}

// Load reads one archived snapshot.
func (a *Archiver) Load(ctx context.Context, studyID, executionID string, version int64) (domain.Execution, error) {
	key := Key(studyID, executionID, version)
	_, rc, err := a.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return domain.Execution{}, domain.NotFoundError{Entity: domain.EntityExecution, ID: key}
	}
	if err != nil {
		return domain.Execution{}, err
	}
	defer func() { _ = rc.Close() }()
	var exec domain.Execution
	if err := json.NewDecoder(rc).Decode(&exec); err != nil {
		return domain.Execution{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return exec, nil
}

// List returns archived snapshots of a study ordered by key. An empty
// executionID lists every execution of the study.
func (a *Archiver) List(ctx context.Context, studyID, executionID string) ([]Entry, error) {
	prefix := path.Join(rootPrefix, studyID) + "/"
	if executionID != "" {
		prefix = path.Join(rootPrefix, studyID, executionID) + "/"
	}
	infos, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entry, ok := parseKey(info.Key)
		if !ok {
			continue
		}
		entry.Size = info.Size
		entry.Status = domain.ExecutionStatus(info.Metadata["status"])
		out = append(out, entry)
	}
	return out, nil
}

func parseKey(key string) (Entry, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != rootPrefix {
		return Entry{}, false
	}
	name := parts[3]
	if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".json") {
		return Entry{}, false
	}
	version, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".json"), 10, 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{Key: key, StudyID: parts[1], ExecutionID: parts[2], Version: version}, true
}
