package mgh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/utils"
)

// Tags that may follow the scan parameters.
const (
	TagOldColortable = 1
	TagOldUseRealRAS = 2
	TagCmdline       = 3
	TagUseRealRAS    = 4
	TagColortable    = 5
	TagOldSurfGeom   = 20
	TagOldMGHXform   = 30
	TagMGHXform      = 31
	TagPEDir         = 41
	TagFieldStrength = 43
)

// maxTagLen rejects corrupt tag lengths before allocating.
const maxTagLen = utils.MaxHeaderBytes

// Tail is the optional metadata after the payload.
type Tail struct {
	Acq      core.Acquisition
	FOV      float64
	Commands []string
	Skipped  int
}

// readTail parses whatever tail r holds. Every field is optional; a stream
// ending at any field boundary is not an error. A malformed tag list is
// logged and ends tag parsing, so it never fails the read.
func readTail(r io.Reader, logger *zap.SugaredLogger) (Tail, error) {
	var t Tail
	params := []*float64{&t.Acq.TR, &t.Acq.FlipAngle, &t.Acq.TE, &t.Acq.TI, &t.FOV}
	for _, p := range params {
		v, err := utils.ReadScalar[float32](r, order)
		if err != nil {
			return t, endOfTail(err)
		}
		*p = float64(v)
	}

	for {
		done, err := t.readTag(r, logger)
		if err != nil {
			logger.Warnw("ignoring malformed mgh tags", "error", err, "commands", len(t.Commands), "skipped", t.Skipped)
			return t, nil
		}
		if done {
			return t, nil
		}
	}
}

// readTag consumes one tag. done is set at a clean end of stream and at
// legacy tags whose body length cannot be known.
func (t *Tail) readTag(r io.Reader, logger *zap.SugaredLogger) (done bool, err error) {
	tag, err := utils.ReadScalar[int32](r, order)
	if err != nil {
		return true, endOfTail(err)
	}

	var n int64
	switch tag {
	case TagOldColortable, TagOldSurfGeom:
		logger.Warnw("stopping at legacy mgh tag without length", "tag", tag)
		return true, nil
	case TagOldUseRealRAS:
		// Bare int32 flag.
		if _, err := utils.ReadScalar[int32](r, order); err != nil {
			return false, utils.WrapError(fmt.Sprintf("mgh tag %d", tag), err)
		}
		t.Skipped++
		return false, nil
	case TagOldMGHXform:
		l, err := utils.ReadScalar[int32](r, order)
		if err != nil {
			return false, utils.WrapError(fmt.Sprintf("mgh tag %d", tag), err)
		}
		// The stored length counts a terminator that is not on disk.
		n = max(int64(l)-1, 0)
	default:
		if n, err = utils.ReadScalar[int64](r, order); err != nil {
			return false, utils.WrapError(fmt.Sprintf("mgh tag %d", tag), err)
		}
	}
	if n < 0 || n > maxTagLen {
		return false, utils.Errorf(utils.ErrTruncatedData, "mgh tag %d has length %d", tag, n)
	}

	if tag != TagCmdline {
		if _, err := io.CopyN(io.Discard, r, n); err != nil {
			return false, utils.Errorf(utils.ErrTruncatedData, "mgh tag %d", tag)
		}
		t.Skipped++
		switch tag {
		case TagUseRealRAS, TagColortable, TagOldMGHXform, TagMGHXform, TagPEDir, TagFieldStrength:
			logger.Debugw("skipped mgh tag", "tag", tag, "bytes", n)
		default:
			logger.Warnw("skipped unknown mgh tag", "tag", tag, "bytes", n)
		}
		return false, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false, utils.Errorf(utils.ErrTruncatedData, "mgh command line tag of %d bytes", n)
	}
	t.Commands = append(t.Commands, string(bytes.TrimRight(buf, "\x00")))
	return false, nil
}

func endOfTail(err error) error {
	if errors.Is(err, utils.ErrTruncatedData) {
		return nil
	}
	return err
}

// writeTail appends scan parameters and one command line tag per
// provenance entry.
func writeTail(w io.Writer, v *core.Volume) error {
	for _, p := range []float64{v.Acq.TR, v.Acq.FlipAngle, v.Acq.TE, v.Acq.TI, v.FOV()} {
		if err := utils.WriteScalar(w, float32(p), order); err != nil {
			return err
		}
	}
	for _, cmd := range v.Provenance() {
		if err := utils.WriteScalar(w, int32(TagCmdline), order); err != nil {
			return err
		}
		if err := utils.WriteScalar(w, int64(len(cmd)+1), order); err != nil {
			return err
		}
		if _, err := io.WriteString(w, cmd+"\x00"); err != nil {
			return err
		}
	}
	return nil
}

// apply copies the tail into v.
func (t Tail) apply(v *core.Volume) {
	v.Acq = t.Acq
	for _, c := range t.Commands {
		v.AddCommand(c)
	}
}

func (t Tail) String() string {
	return fmt.Sprintf("TR=%g TE=%g TI=%g flip=%.4g fov=%g cmds=%d", t.Acq.TR, t.Acq.TE, t.Acq.TI, t.Acq.FlipAngle*180/math.Pi, t.FOV, len(t.Commands))
}
