package hook

import (
	"context"
	"fmt"
	"time"

	"github.com/piehook/piectl/pkg/driver"
	"github.com/piehook/piectl/pkg/logflags"
)

// OpenFunc opens a control channel to the driver at path.
type OpenFunc func(path string) (driver.Channel, error)

// Client applies hooks through the driver's control device. The zero value
// uses driver.DefaultDevice and driver.Open.
type Client struct {
	// Device is the path of the control device.
	Device string
	// Open is used to obtain a channel to Device.
	Open OpenFunc
	// Timeout bounds the whole exchange of a single Apply. Zero means no
	// limit.
	Timeout time.Duration
}

func (c *Client) device() string {
	if c.Device == "" {
		return driver.DefaultDevice
	}
	return c.Device
}

func (c *Client) open() (driver.Channel, error) {
	if c.Open == nil {
		return driver.Open(c.device())
	}
	return c.Open(c.device())
}

// Apply configures hook k with value.
//
// The control channel is opened after the range check passes and closed
// before Apply returns. Failures are reported as *Error.
func (c *Client) Apply(ctx context.Context, k Kind, value uint64) (Outcome, error) {
	if err := Check(k, value); err != nil {
		return Outcome{}, err
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	logger := logflags.DriverLogger().WithFields(logflags.Fields{"hook": k.Name(), "value": fmt.Sprintf("%#x", value)})

	ch, err := c.open()
	if err != nil {
		return Outcome{}, &Error{Kind: k, Value: value, Err: fmt.Errorf("%w: %w, may use \"sudo\" or \"insmod\"", ErrChannelUnavailable, err)}
	}
	x := &exchange{ch: ch}
	defer x.close()

	if err := x.do(ctx, func(ch driver.Channel) error { return ch.Enable(k.class()) }); err != nil {
		logger.WithError(err).Debug("enable failed")
		return Outcome{}, &Error{Kind: k, Value: value, Err: fmt.Errorf("%w: %w", ErrEnableRejected, err)}
	}

	p := k.param(value)
	var bits uint32
	err = x.do(ctx, func(ch driver.Channel) error {
		err := ch.Configure(k.verb(), &p)
		bits = p.Result
		return err
	})
	if err != nil {
		logger.WithError(err).Debug("configure failed")
		return Outcome{}, &Error{Kind: k, Value: value, Err: fmt.Errorf("%w: %w", ErrConfigRejected, err)}
	}

	res := DecodeResult(bits)
	logger.Debugf("driver result %#x (%s)", bits, res)
	switch res {
	case Rejected:
		return Outcome{}, &Error{Kind: k, Value: value, Err: ErrAddressRejected}
	case AcceptedUnaligned:
		// Stack offsets have no alignment requirement.
		return newOutcome(k, value, k == StackOffset), nil
	}
	return newOutcome(k, value, true), nil
}

// exchange owns a channel for the duration of one Apply.
type exchange struct {
	ch driver.Channel
	// pending receives the result of a driver call that outlived its
	// deadline. The channel can only be closed after it returns.
	pending chan error
}

func (x *exchange) do(ctx context.Context, fn func(driver.Channel) error) error {
	if ctx.Done() == nil {
		return fn(x.ch)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- fn(x.ch)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		x.pending = done
		return ctx.Err()
	}
}

func (x *exchange) close() {
	if x.pending == nil {
		x.ch.Close()
		return
	}
	go func(ch driver.Channel, pending <-chan error) {
		<-pending
		ch.Close()
	}(x.ch, x.pending)
}
