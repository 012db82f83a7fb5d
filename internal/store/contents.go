package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/stoker/internal/model"
)

const (
	contentsBaseURL = "https://api.github.com"

	// Tasks live under a subdirectory of the storage repo; the contents API
	// creates intermediate directories on write.
	contentsFilePath = "codespace-manager/keepalive_tasks.json"

	contentsMaxAttempts   = 2
	contentsConflictDelay = 500 * time.Millisecond
	contentsTimeout       = 10 * time.Second
)

var _ TaskStore = (*ContentsStore)(nil)

// ContentsStore persists keepalive tasks as a single JSON file in a provider
// repository via the repo-contents API. Each write is a commit; concurrent
// writers are detected through the file SHA and resolved last-write-wins
// after a bounded retry.
type ContentsStore struct {
	baseURL string
	token   string
	repo    string
	branch  string
	http    *http.Client

	mu sync.Mutex
	// lastKnownSHA caches the file SHA between writes to skip a GET per save.
	lastKnownSHA string

	sleep func(time.Duration)
}

// NewContentsStore creates a store writing to repo ("owner/name") on branch.
func NewContentsStore(token, repo, branch string) *ContentsStore {
	return NewContentsStoreWithBaseURL(contentsBaseURL, token, repo, branch)
}

// NewContentsStoreWithBaseURL creates a store against an explicit API root.
// Tests point this at httptest servers.
func NewContentsStoreWithBaseURL(baseURL, token, repo, branch string) *ContentsStore {
	return &ContentsStore{
		baseURL: baseURL,
		token:   token,
		repo:    repo,
		branch:  branch,
		http:    &http.Client{Timeout: contentsTimeout},
		sleep:   time.Sleep,
	}
}

type contentsFile struct {
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

// LoadTasks fetches and decodes the remote task file, dropping expired tasks.
// A missing file yields an empty set.
func (s *ContentsStore) LoadTasks(ctx context.Context) (map[string]*model.KeepaliveTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadTasksLocked(ctx)
}

func (s *ContentsStore) loadTasksLocked(ctx context.Context) (map[string]*model.KeepaliveTask, error) {
	tasks := make(map[string]*model.KeepaliveTask)

	resp, err := s.doContents(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		s.lastKnownSHA = ""
		return tasks, nil
	}
	if resp.StatusCode != http.StatusOK {
		s.lastKnownSHA = ""
		return nil, fmt.Errorf("fetch task file: status %d", resp.StatusCode)
	}

	var file contentsFile
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode task file response: %w", err)
	}
	s.lastKnownSHA = file.SHA

	// The contents API wraps base64 payloads with newlines.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode task file content: %w", err)
	}
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}

	return filterExpired(tasks, time.Now()), nil
}

// SaveTasks commits the given task set as the new file content. On a SHA
// conflict (another writer committed in between) the cached SHA is discarded
// and the write retried once; after that the save fails and the next poll
// cycle re-persists.
func (s *ContentsStore) SaveTasks(ctx context.Context, tasks map[string]*model.KeepaliveTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveTasksLocked(ctx, tasks)
}

func (s *ContentsStore) saveTasksLocked(ctx context.Context, tasks map[string]*model.KeepaliveTask) error {
	raw, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}

	for attempt := 0; attempt < contentsMaxAttempts; attempt++ {
		sha, err := s.fileSHA(ctx, attempt > 0)
		if err != nil {
			return err
		}

		payload := map[string]any{
			"message": fmt.Sprintf("[auto] update keepalive tasks (%d active) - %s",
				len(tasks), time.Now().UTC().Format("2006-01-02 15:04:05")),
			"content": base64.StdEncoding.EncodeToString(raw),
			"branch":  s.branch,
		}
		if sha != "" {
			payload["sha"] = sha
		}

		resp, err := s.doContents(ctx, http.MethodPut, payload)
		if err != nil {
			s.lastKnownSHA = ""
			return err
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated:
			var result struct {
				Content contentsFile `json:"content"`
			}
			if json.NewDecoder(resp.Body).Decode(&result) == nil {
				s.lastKnownSHA = result.Content.SHA
			}
			resp.Body.Close()
			return nil
		case http.StatusConflict:
			// Another writer got there first; refresh the SHA and retry.
			resp.Body.Close()
			s.lastKnownSHA = ""
			s.sleep(contentsConflictDelay)
			continue
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			s.lastKnownSHA = ""
			return fmt.Errorf("save task file: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		}
	}

	return fmt.Errorf("save task file: conflict persisted after %d attempts", contentsMaxAttempts)
}

// PutTask writes a single task through a load-modify-save cycle.
func (s *ContentsStore) PutTask(ctx context.Context, task *model.KeepaliveTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.loadTasksLocked(ctx)
	if err != nil {
		return err
	}
	tasks[task.Key()] = task
	return s.saveTasksLocked(ctx, tasks)
}

// DeleteTask removes the task under key. Missing keys are a no-op.
func (s *ContentsStore) DeleteTask(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks, err := s.loadTasksLocked(ctx)
	if err != nil {
		return err
	}
	if _, ok := tasks[key]; !ok {
		return nil
	}
	delete(tasks, key)
	return s.saveTasksLocked(ctx, tasks)
}

// fileSHA returns the current file SHA, using the cached value unless a
// refresh is forced. An empty SHA means the file does not exist yet.
func (s *ContentsStore) fileSHA(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh && s.lastKnownSHA != "" {
		return s.lastKnownSHA, nil
	}

	resp, err := s.doContents(ctx, http.MethodGet, nil)
	if err != nil {
		s.lastKnownSHA = ""
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var file contentsFile
		if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
			s.lastKnownSHA = ""
			return "", fmt.Errorf("decode sha response: %w", err)
		}
		s.lastKnownSHA = file.SHA
		return file.SHA, nil
	case http.StatusNotFound:
		s.lastKnownSHA = ""
		return "", nil
	default:
		s.lastKnownSHA = ""
		return "", fmt.Errorf("fetch file sha: status %d", resp.StatusCode)
	}
}

// doContents performs one request against the repo-contents endpoint.
func (s *ContentsStore) doContents(ctx context.Context, method string, body any) (*http.Response, error) {
	u := fmt.Sprintf("%s/repos/%s/contents/%s", s.baseURL, s.repo, contentsFilePath)
	if method == http.MethodGet {
		u += "?" + url.Values{"ref": {s.branch}}.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "token "+s.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contents request: %w", err)
	}
	return resp, nil
}
