package events

import (
	"testing"
	"time"

	"github.com/mqc3/scheduler/internal/jobmeta"
)

func TestNoopPublisherDoesNotPanic(t *testing.T) {
	p := Noop()
	meta := jobmeta.New("job-1", "1.0", "tok", "guest", "emulator", 10, 1, false, jobmeta.StateSaveNone, 0, time.Now())
	p.Publish("job.queued", meta)
}
