// ABOUTME: Out-of-process feature-extraction worker speaking JSON lines over stdio
// ABOUTME: Requests carry UUID correlation ids so concurrent callers get their own vectors
package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/google/uuid"
	"github.com/harper/paperchat/internal/logger"
	"github.com/harper/paperchat/internal/models"
)

type workerRequest struct {
	ID    string `json:"id"`
	Task  string `json:"task"`
	Model string `json:"model"`
	Text  string `json:"text"`
}

// workerResponse is one line from the worker. Type "progress" lines report model
// downloads and carry no id; "result" lines answer a request.
type workerResponse struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Embedding [][]float32 `json:"embedding"`
	Error     string      `json:"error,omitempty"`
	Data      any         `json:"data,omitempty"`
}

type workerResult struct {
	vector []float32
	err    error
}

// WorkerEncoder runs embeddings in a child process
type WorkerEncoder struct {
	model string
	log   logger.Logger

	writeMu sync.Mutex
	enc     *json.Encoder
	stdin   io.Closer

	mu      sync.Mutex
	pending map[string]chan workerResult
	closed  error

	cmd  *exec.Cmd
	done chan struct{}
}

// StartWorker launches command (with args) as the embedding worker for model
func StartWorker(command string, args []string, model string, log logger.Logger) (*WorkerEncoder, error) {
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start encoder worker %q: %v", models.ErrExternalService, command, err)
	}

	w := NewWorkerEncoder(stdout, stdin, model, log)
	w.cmd = cmd
	return w, nil
}

// NewWorkerEncoder serves requests over an already connected worker stream
func NewWorkerEncoder(r io.Reader, w io.WriteCloser, model string, log logger.Logger) *WorkerEncoder {
	if log == nil {
		log = logger.Nop()
	}
	we := &WorkerEncoder{
		model:   model,
		log:     log.With("component", "encoder-worker", "model", model),
		enc:     json.NewEncoder(w),
		stdin:   w,
		pending: make(map[string]chan workerResult),
		done:    make(chan struct{}),
	}
	go we.readLoop(r)
	return we
}

// Model returns the embedding model id
func (w *WorkerEncoder) Model() string {
	return w.model
}

// Encode sends text to the worker and waits for its pooled, normalized vector
func (w *WorkerEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	id := uuid.New().String()
	ch := make(chan workerResult, 1)

	w.mu.Lock()
	if w.closed != nil {
		err := w.closed
		w.mu.Unlock()
		return nil, err
	}
	w.pending[id] = ch
	w.mu.Unlock()

	w.writeMu.Lock()
	err := w.enc.Encode(workerRequest{ID: id, Task: TaskFeatureExtraction, Model: w.model, Text: text})
	w.writeMu.Unlock()
	if err != nil {
		w.forget(id)
		return nil, fmt.Errorf("%w: failed to write to encoder worker: %v", models.ErrExternalService, err)
	}

	select {
	case res := <-ch:
		return res.vector, res.err
	case <-ctx.Done():
		w.forget(id)
		return nil, ctx.Err()
	}
}

func (w *WorkerEncoder) forget(id string) {
	w.mu.Lock()
	delete(w.pending, id)
	w.mu.Unlock()
}

func (w *WorkerEncoder) readLoop(r io.Reader) {
	defer close(w.done)
	dec := json.NewDecoder(r)
	for {
		var resp workerResponse
		if err := dec.Decode(&resp); err != nil {
			if errors.Is(err, io.EOF) {
				err = errors.New("encoder worker exited")
			}
			w.failAll(fmt.Errorf("%w: %v", models.ErrExternalService, err))
			return
		}

		if resp.Type == "progress" {
			w.log.Debug("worker progress", "data", resp.Data)
			continue
		}

		w.mu.Lock()
		ch, ok := w.pending[resp.ID]
		delete(w.pending, resp.ID)
		w.mu.Unlock()
		if !ok {
			w.log.Warn("dropping response for unknown request", "id", resp.ID)
			continue
		}

		ch <- toResult(resp)
	}
}

func toResult(resp workerResponse) workerResult {
	if resp.Error != "" {
		return workerResult{err: fmt.Errorf("%w: encoder worker: %s", models.ErrExternalService, resp.Error)}
	}
	vector := MeanPool(resp.Embedding)
	if len(vector) == 0 {
		return workerResult{err: fmt.Errorf("%w: encoder worker returned no embedding", models.ErrParse)}
	}
	return workerResult{vector: Normalize(vector)}
}

func (w *WorkerEncoder) failAll(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed == nil {
		w.closed = err
	}
	for id, ch := range w.pending {
		ch <- workerResult{err: err}
		delete(w.pending, id)
	}
}

// Close stops the worker by closing its stdin and waits for it to exit
func (w *WorkerEncoder) Close() error {
	err := w.stdin.Close()
	if w.cmd == nil {
		return err
	}
	// stdout must be drained before Wait
	<-w.done
	if waitErr := w.cmd.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	return err
}
