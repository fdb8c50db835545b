package driver

import (
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/piehook/piectl/pkg/logflags"
)

const iocMagic = 'P'

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | iocMagic<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func iocIO(nr uintptr) uintptr {
	return ioc(iocNone, nr, 0)
}

func iocIOWR(nr uintptr) uintptr {
	return ioc(iocRead|iocWrite, nr, unsafe.Sizeof(Param{}))
}

// Request numbers, as defined by pie_interface.h.
var (
	reqPIEEnable         = iocIO(1)
	reqPIEConfig         = iocIOWR(2)
	reqStackEnable       = iocIO(3)
	reqStackConfigBase   = iocIOWR(4)
	reqStackConfigOffset = iocIOWR(5)
	reqHeapEnable        = iocIO(6)
	reqHeapConfig        = iocIOWR(7)
)

func enableRequest(c Class) (uintptr, bool) {
	switch c {
	case ClassPIE:
		return reqPIEEnable, true
	case ClassStack:
		return reqStackEnable, true
	case ClassHeap:
		return reqHeapEnable, true
	}
	return 0, false
}

func configRequest(v Verb) (uintptr, bool) {
	switch v {
	case ConfigPIE:
		return reqPIEConfig, true
	case ConfigStackBase:
		return reqStackConfigBase, true
	case ConfigStackOffset:
		return reqStackConfigOffset, true
	case ConfigHeap:
		return reqHeapConfig, true
	}
	return 0, false
}

type device struct {
	fd  int
	log logflags.Logger
}

// Open opens the control device at path.
func Open(path string) (Channel, error) {
	fd, err := sys.Open(path, sys.O_RDWR|sys.O_CLOEXEC, 0)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	d := &device{fd: fd, log: logflags.DriverLogger().WithField("device", path)}
	d.log.Debugf("opened fd %d", fd)
	return d, nil
}

func (d *device) Enable(c Class) error {
	req, ok := enableRequest(c)
	if !ok {
		return sys.EINVAL
	}
	err := ioctl(d.fd, req, nil)
	d.log.Debugf("-> enable %s (%#x): %v", c, req, errString(err))
	return err
}

func (d *device) Configure(v Verb, p *Param) error {
	req, ok := configRequest(v)
	if !ok {
		return sys.EINVAL
	}
	err := ioctl(d.fd, req, unsafe.Pointer(p))
	d.log.Debugf("-> %s (%#x) offset=%#x base=%#x: %v result=%#x", v, req, p.RndOffset, p.RndBase, errString(err), p.Result)
	return err
}

func (d *device) Close() error {
	d.log.Debugf("closing fd %d", d.fd)
	return sys.Close(d.fd)
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := sys.Syscall(sys.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
