// Package artifacts publishes links to reports produced by tasks.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"
)

// Link points to a report stored outside of the run, a build scan for example.
type Link struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	Task        string    `json:"task,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	Created     time.Time `json:"created"`
}

type Publisher interface {
	Publish(ctx context.Context, link Link) error
}

// WriterPublisher writes every link as one JSON line.
type WriterPublisher struct {
	mx sync.Mutex
	w  io.Writer
}

func NewWriterPublisher(w io.Writer) *WriterPublisher {
	return &WriterPublisher{w: w}
}

func (p *WriterPublisher) Publish(_ context.Context, link Link) error {
	b, err := json.Marshal(link)
	if err != nil {
		return err
	}
	p.mx.Lock()
	defer p.mx.Unlock()
	w := p.w
	if w == nil {
		w = os.Stdout
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// DirPublisher stores every link as a JSON file in a directory.
type DirPublisher struct {
	mx   sync.Mutex
	root *os.Root
}

func NewDirPublisher(path string) (*DirPublisher, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir: %w", err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &DirPublisher{root: root}, nil
}

// FileName returns the name link is stored under.
func FileName(link Link) string {
	suffix := link.RunID
	if suffix == "" {
		suffix = link.Created.UTC().Format("2006-01-02-15-04-05")
	}
	return unsafeName.ReplaceAllString(link.Key+"-"+suffix, "_") + ".json"
}

func (p *DirPublisher) Publish(ctx context.Context, link Link) error {
	b, err := json.MarshalIndent(link, "", "  ")
	if err != nil {
		return err
	}

	p.mx.Lock()
	defer p.mx.Unlock()
	if p.root == nil {
		return errors.New("publisher already closed")
	}
	path := FileName(link)
	if err := p.root.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("saving link %s: %w", link.Key, err)
	}
	slog.InfoContext(ctx, "link saved", "key", link.Key, "path", path)
	return nil
}

func (p *DirPublisher) Close() error {
	p.mx.Lock()
	defer p.mx.Unlock()
	if p.root == nil {
		return errors.New("publisher already closed")
	}
	err := p.root.Close()
	p.root = nil
	return err
}

// Multi publishes to every publisher and joins the errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, link Link) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, link); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
