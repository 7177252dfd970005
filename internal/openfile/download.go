package openfile

import (
	"sync"

	"github.com/objectmount/objectmount/pkg/apierr"
)

// download is a one-shot, single-producer/multi-consumer future, replacing
// the condvar-based `open_file_base::download` class from the C++ source
// (spec §9 design note: "replace with the target language's one-shot
// future/channel primitive"). Exactly one goroutine calls Notify; any number
// of goroutines may call Wait, all observing the same result.
type download struct {
	done chan struct{}
	once sync.Once
	code apierr.Code
}

func newDownload() *download {
	return &download{done: make(chan struct{})}
}

// Notify resolves the future. Only the first call has any effect.
func (d *download) Notify(code apierr.Code) {
	d.once.Do(func() {
		d.code = code
		close(d.done)
	})
}

// Wait blocks until Notify is called and returns its code.
func (d *download) Wait() apierr.Code {
	<-d.done
	return d.code
}
