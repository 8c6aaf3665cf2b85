package utils

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/setanarut/swapsort"
)

// DefaultLeadingZeros is the frame number width of sequence output.
const DefaultLeadingZeros = 4

// FramePath numbers path for sequence output: out/a.png, 7, 4 -> out/a_0007.png.
func FramePath(path string, frame, zeros int) string {
	if zeros <= 0 {
		zeros = DefaultLeadingZeros
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_%0*d%s", stem, zeros, frame, ext)
}

// FileSink publishes checkpoints as PNG files.
type FileSink struct {
	Path         string
	Mode         swapsort.OutputMode
	LeadingZeros int
	// When non-nil, a copy is updated with every checkpoint and written to
	// StatePath(Path), so the run can be resumed.
	State *RunState
}

func (s *FileSink) Save(ctx context.Context, cp *swapsort.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path
	if s.Mode == swapsort.OutputSequence {
		path = FramePath(s.Path, cp.Frame, s.LeadingZeros)
	}
	if err := SaveImageAtomic(cp.Image, path); err != nil {
		return err
	}
	swapsort.Logger().Debug("checkpoint written", "path", path, "frame", cp.Frame, "iteration", cp.Iteration)
	if s.State == nil {
		return nil
	}
	st := *s.State
	st.RunID = cp.RunID
	st.Iteration = cp.Iteration
	st.Frame = cp.Frame
	st.Checkpoint = path
	st.Final = cp.Final
	st.UpdatedAt = time.Now().UTC()
	return SaveState(StatePath(s.Path), &st)
}
