package client

import (
	"context"
	"math"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/yeqown/submemd/wire"
)

const (
	maxKeySize   = 250
	maxValueSize = math.MaxUint32
)

// sendPacket marshals pkt and writes it to rr, applying writeTimeout (or
// ctx's deadline, whichever is sooner) the same way the teacher's
// request.send bounded a text-protocol write.
func sendPacket(ctx context.Context, rr memcachedConn, pkt *wire.Packet, writeTimeout time.Duration) error {
	if has := selectProximateDeadline(ctx, rr, writeTimeout, nowFunc, false); has {
		defer func() { _ = rr.setWriteDeadline(zeroTime) }()
	}

	buf, err := pkt.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	_, err = rr.Write(buf)
	return err
}

// recvPacket reads one full response frame from rr, applying readTimeout
// (or ctx's deadline) the same way the teacher's response.recv did.
func recvPacket(ctx context.Context, rr memcachedConn, readTimeout time.Duration) (*wire.Packet, error) {
	if has := selectProximateDeadline(ctx, rr, readTimeout, nowFunc, true); has {
		defer func() { _ = rr.setReadDeadline(zeroTime) }()
	}

	pkt, err := wire.ReadPacket(rr)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	return pkt, nil
}

// selectProximateDeadline picks the sooner of ctx's deadline and now+timeout
// and applies it to rr, returning whether any deadline was set. Grounded on
// the teacher's identically-named helper, unchanged in shape.
func selectProximateDeadline(
	ctx context.Context, rr memcachedConn, timeout time.Duration, nowFunc nowFuncType, isRead bool) (ok bool) {

	if ctx == nil {
		ctx = context.Background()
	}
	if timeout < 0 {
		timeout = 0
	}

	var (
		deadline time.Time
		has      bool
	)
	if timeout > 0 {
		deadline = nowFunc().Add(timeout)
		has = true
	}

	if ctxDeadline, ok := ctx.Deadline(); ok {
		if !has || ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
			has = true
		}
	}

	if has {
		if isRead {
			_ = rr.setReadDeadline(deadline)
		} else {
			_ = rr.setWriteDeadline(deadline)
		}
	}

	return has
}

// statusToError maps a response packet's status to the matching Err*
// sentinel, wrapped in a *StatusError so callers can still recover the
// exact wire.Status. nil for wire.StatusSuccess.
func statusToError(status wire.Status) error {
	var parent error
	switch status {
	case wire.StatusSuccess:
		return nil
	case wire.StatusKeyNotFound:
		parent = ErrNotFound
	case wire.StatusKeyExists:
		parent = ErrExists
	case wire.StatusValueTooBig:
		parent = ErrTooBig
	case wire.StatusInvalidArgs:
		parent = ErrInvalidArgument
	case wire.StatusItemNotStored:
		parent = ErrNotStored
	case wire.StatusNotSupported:
		parent = ErrNotSupported
	case wire.StatusInternalError:
		parent = ErrInternal
	case wire.StatusBusy:
		parent = ErrBusy
	case wire.StatusTmpFailure:
		parent = ErrTmpFailure
	default:
		if status >= wire.StatusSubDocPathNotFound {
			parent = ErrSubDoc
		} else {
			parent = ErrNotSupported
		}
	}

	return &StatusError{Status: status, parent: parent}
}

func unsafeStringToByteSlice(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func unsafeByteSliceToString(bs []byte) string {
	return unsafe.String(unsafe.SliceData(bs), len(bs))
}
