package pipeline

import (
	"context"
	"fmt"
	"io"

	"arenaoj/internal/common/storage"
	"arenaoj/internal/judge/sandbox"
	problemRepo "arenaoj/internal/problem/repository"
	appErr "arenaoj/pkg/errors"
)

// TestCaseSource resolves the ordered judge cases of a problem with
// their payloads loaded.
type TestCaseSource interface {
	Load(ctx context.Context, problemID int64) ([]sandbox.TestCase, error)
}

// StorageTestCaseSource reads case metadata from the problem repository
// and case bodies from object storage.
type StorageTestCaseSource struct {
	problemRepo problemRepo.ProblemRepository
	storage     storage.ObjectStorage
	bucket      string
}

func NewStorageTestCaseSource(repo problemRepo.ProblemRepository, store storage.ObjectStorage, bucket string) (*StorageTestCaseSource, error) {
	if repo == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("test case bucket is required")
	}
	return &StorageTestCaseSource{problemRepo: repo, storage: store, bucket: bucket}, nil
}

func (s *StorageTestCaseSource) Load(ctx context.Context, problemID int64) ([]sandbox.TestCase, error) {
	metas, err := s.problemRepo.ListTestCases(ctx, nil, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestCaseNotFound, "list test cases failed")
	}

	cases := make([]sandbox.TestCase, 0, len(metas))
	for _, meta := range metas {
		input, err := s.readObject(ctx, meta.InputKey)
		if err != nil {
			return nil, err
		}
		answer, err := s.readObject(ctx, meta.AnswerKey)
		if err != nil {
			return nil, err
		}
		cases = append(cases, sandbox.TestCase{
			TestID:        meta.TestID,
			Input:         input,
			Answer:        answer,
			TimeLimitMs:   meta.TimeLimitMs,
			MemoryLimitKB: meta.MemoryLimitKB,
		})
	}
	return cases, nil
}

func (s *StorageTestCaseSource) readObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestCaseNotFound, "fetch test case object %s failed", key)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.TestCaseNotFound, "read test case object %s failed", key)
	}
	return data, nil
}
