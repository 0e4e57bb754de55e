package filewatch

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// UntilModifyContext derives a context which is canceled
// when one of the target files is modified (= written, created, removed, chmod-ed or renamed).
//
// # Args
//
// - ctx: base context.
//
// - targetFilePath ...string: file pathes to be watched.
// Passing a directory watches the files in it.
//
// # Returns
//
// - context.Context: canceled when one of the target files is modified.
// The cause of the cancel describes which file and how.
//
// - func(): cancel function. Call it to stop watching.
//
// - error: error caused when it fails to start watching files.
//
// If error is not nil, both of the context and the cancel function are nil.
func UntilModifyContext(ctx context.Context, targetFilePath ...string) (context.Context, func(), error) {
	cctx, cancel := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return nil, nil, err
	}

	for _, f := range targetFilePath {
		if err := w.Add(f); err != nil {
			w.Close()
			cancel(err)
			return nil, nil, err
		}
	}

	go func() {
		defer w.Close()

		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				cancel(fmt.Errorf("%s is updated (%s)", event.Name, event.Op))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(err)
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}
