package cmds

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/piehook/piectl/pkg/addr"
	"github.com/piehook/piectl/pkg/codec"
	"github.com/piehook/piectl/pkg/config"
	"github.com/piehook/piectl/pkg/hook"
	"github.com/piehook/piectl/pkg/ledger"
	"github.com/piehook/piectl/pkg/logflags"
	"github.com/piehook/piectl/pkg/terminal"
)

type op uint8

const (
	opApply op = iota
	opExport
	opImport
)

// action is one operator request, in command line order.
type action struct {
	op   op
	kind hook.Kind
	arg  string
}

// session is the state of a single piectl invocation. It replaces the
// global flag state of the command line front end.
type session struct {
	conf *config.Config

	logFlag   bool
	logOutput string
	logDest   string
	device    string
	timeout   time.Duration
	color     string
	dryRun    bool
	save      bool

	actions []action
	ledger  *ledger.Ledger

	// open overrides driver.Open, used by tests.
	open   hook.OpenFunc
	client *hook.Client
	report *terminal.Reporter
	log    logflags.Logger
}

func newSession(conf *config.Config) *session {
	return &session{conf: conf, ledger: ledger.New()}
}

// actionFlag queues an action every time its flag is parsed, so that
// actions run in the order they were given.
type actionFlag struct {
	s    *session
	op   op
	kind hook.Kind
	last string
}

var _ pflag.Value = (*actionFlag)(nil)

func (f *actionFlag) String() string {
	return f.last
}

func (f *actionFlag) Set(v string) error {
	if f.op != opApply && v == "" {
		return fmt.Errorf("empty path")
	}
	f.last = v
	f.s.actions = append(f.s.actions, action{op: f.op, kind: f.kind, arg: v})
	return nil
}

func (f *actionFlag) Type() string {
	if f.op == opApply {
		return "value"
	}
	return "path"
}

func (s *session) dispatch(ctx context.Context, a action) {
	s.log.Debugf("dispatch %d %s %q", a.op, a.kind.Name(), a.arg)
	switch a.op {
	case opApply:
		v := addr.Parse(a.arg)
		s.ledger.Append(a.kind, v)
		out, err := s.applier().Apply(ctx, a.kind, v)
		s.reportApply(a.kind, v, out, err)
	case opExport:
		s.export(a.arg)
	case opImport:
		s.importDocument(ctx, a.arg)
	}
}

func (s *session) applier() codec.Applier {
	if s.dryRun {
		return dryRunApplier{}
	}
	return s.client
}

func (s *session) reportApply(k hook.Kind, v uint64, out hook.Outcome, err error) {
	switch {
	case err != nil:
		s.report.Error(err)
	case s.dryRun:
		s.report.Infof("%s %s is within range (dry run)", k, addr.Format(v))
	default:
		s.report.Infof("%s", out)
	}
}

func (s *session) export(path string) {
	if err := codec.ExportFile(s.ledger, path); err != nil {
		s.report.Error(fmt.Errorf("export to %s: %w", path, err))
		return
	}
	s.report.Infof("Configuration exported to %s", path)
}

func (s *session) importDocument(ctx context.Context, path string) {
	applied, err := codec.ImportFile(ctx, path, s.applier())
	if err != nil {
		s.report.Error(fmt.Errorf("import from %s: %w", path, err))
		return
	}
	if len(applied) == 0 {
		s.report.Infof("No hooks configured in %s", path)
		return
	}
	for _, a := range applied {
		s.reportApply(a.Kind, a.Value, a.Outcome, a.Err)
	}
}

func (s *session) saveDefault() {
	path := config.ExpandHome(s.conf.DefaultExport)
	if path == "" {
		s.report.Error(fmt.Errorf("--save requires default-export in the config file"))
		return
	}
	s.export(path)
}

// dryRunApplier only runs the range checks.
type dryRunApplier struct{}

func (dryRunApplier) Apply(ctx context.Context, k hook.Kind, v uint64) (hook.Outcome, error) {
	if err := hook.Check(k, v); err != nil {
		return hook.Outcome{}, err
	}
	return hook.Outcome{Kind: k, Value: v, Base: v &^ hook.PageMask, Aligned: true}, nil
}
