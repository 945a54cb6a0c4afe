package notify

import (
	"io"
	"os"
)

// Bell rings the terminal bell. Whether anything is audible depends on the
// user's terminal; a swallowed write error is the expected failure mode.
type Bell struct {
	W io.Writer
}

func (b Bell) Play() error {
	w := b.W
	if w == nil {
		w = os.Stdout
	}
	_, err := w.Write([]byte("\a"))
	return err
}

// Silent is a Sound that does nothing; used with watch.sound: false.
type Silent struct{}

func (Silent) Play() error { return nil }
