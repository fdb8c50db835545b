package cmds

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/piehook/piectl/pkg/config"
	"github.com/piehook/piectl/pkg/driver"
	"github.com/piehook/piectl/pkg/hook"
)

type request struct {
	verb driver.Verb
	p    driver.Param
}

type fakeDriver struct {
	opened   []string
	requests []request
	result   uint32
	openErr  error
}

func (d *fakeDriver) open(path string) (driver.Channel, error) {
	d.opened = append(d.opened, path)
	if d.openErr != nil {
		return nil, d.openErr
	}
	return (*fakeChannel)(d), nil
}

type fakeChannel fakeDriver

func (c *fakeChannel) Enable(driver.Class) error { return nil }

func (c *fakeChannel) Configure(v driver.Verb, p *driver.Param) error {
	c.requests = append(c.requests, request{v, *p})
	p.Result = c.result
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func runPiectl(t *testing.T, conf *config.Config, d *fakeDriver, args ...string) (string, string, error) {
	t.Helper()
	s := newSession(conf)
	s.open = d.open
	cmd := newCommand(s, false)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestApplyFlagsInOrder(t *testing.T) {
	d := &fakeDriver{}
	_, stderr, err := runPiectl(t, &config.Config{}, d, "-t", "0x555555555000", "--heap", "8192", "-g", "0b1000", "-s", "0x7ffffffde000")
	if err != nil {
		t.Fatalf("unexpected error %v (%s)", err, stderr)
	}
	want := []request{
		{driver.ConfigPIE, driver.Param{RndOffset: 0x1000}},
		{driver.ConfigHeap, driver.Param{RndOffset: 8192}},
		{driver.ConfigStackOffset, driver.Param{RndOffset: 8}},
		{driver.ConfigStackBase, driver.Param{RndBase: 0x7ffffffde000}},
	}
	if len(d.requests) != len(want) {
		t.Fatalf("expected %d requests, got %#v", len(want), d.requests)
	}
	for i := range want {
		if d.requests[i] != want[i] {
			t.Fatalf("request %d: expected %#v, got %#v", i, want[i], d.requests[i])
		}
	}
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected one line per action, got %q", stderr)
	}
	if lines[0] != "[-] INFO: Text base hooked successfully, TEXT_BASE: 0x555555555000" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	for _, dev := range d.opened {
		if dev != driver.DefaultDevice {
			t.Fatalf("unexpected device %q", dev)
		}
	}
}

func TestFailuresDoNotStopDispatch(t *testing.T) {
	d := &fakeDriver{}
	_, stderr, err := runPiectl(t, &config.Config{}, d, "-t", "0x1000", "-p", "0x1000")
	if !errors.Is(err, ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	if len(d.requests) != 1 || d.requests[0].verb != driver.ConfigHeap {
		t.Fatalf("expected only the heap request, got %#v", d.requests)
	}
	want := "[-] ERROR: Text base: out of range\n[-] INFO: Heap base hooked successfully, HEAP_BASE: 0x1000\n"
	if stderr != want {
		t.Fatalf("got %q, expected %q", stderr, want)
	}
}

func TestExportOrder(t *testing.T) {
	dir := t.TempDir()
	before := filepath.Join(dir, "before.json")
	after := filepath.Join(dir, "after.json")
	d := &fakeDriver{}
	_, stderr, err := runPiectl(t, &config.Config{}, d, "-e", before, "-s", "4096", "-s", "8192", "-e", after)
	if err != nil {
		t.Fatalf("unexpected error %v (%s)", err, stderr)
	}
	buf, err := os.ReadFile(before)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "{}" {
		t.Fatalf("expected empty document, got %s", buf)
	}
	buf, err = os.ReadFile(after)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != `{"stack":"0x2000"}` {
		t.Fatalf("unexpected document %s", buf)
	}
}

func TestExportRecordsFailedAttempts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	d := &fakeDriver{openErr: errors.New("permission denied")}
	_, _, err := runPiectl(t, &config.Config{}, d, "-p", "0x2000", "-e", path)
	if !errors.Is(err, ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != `{"heap":"0x2000"}` {
		t.Fatalf("unexpected document %s", buf)
	}
}

func TestImportBypassesLedger(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.json")
	out := filepath.Join(dir, "out.json")
	if err := os.WriteFile(in, []byte(`{"text":"0x555555555000","heap":"0x2000","foo":"0x1"}`), 0644); err != nil {
		t.Fatal(err)
	}
	d := &fakeDriver{result: driver.ResultUnaligned}
	_, stderr, err := runPiectl(t, &config.Config{}, d, "-i", in, "-e", out)
	if err != nil {
		t.Fatalf("unexpected error %v (%s)", err, stderr)
	}
	if len(d.requests) != 2 {
		t.Fatalf("expected two requests, got %#v", d.requests)
	}
	if !strings.Contains(stderr, "Text base hooked, but address is not aligned, TEXT_BASE: 0x555555555000") {
		t.Fatalf("missing unaligned report in %q", stderr)
	}
	buf, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "{}" {
		t.Fatalf("replayed hooks leaked into the ledger: %s", buf)
	}
}

func TestImportEmptyDocument(t *testing.T) {
	in := filepath.Join(t.TempDir(), "empty.json")
	if err := os.WriteFile(in, nil, 0644); err != nil {
		t.Fatal(err)
	}
	d := &fakeDriver{}
	_, stderr, err := runPiectl(t, &config.Config{}, d, "-i", in, "-p", "0")
	if !errors.Is(err, ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	if len(d.requests) != 1 {
		t.Fatalf("expected the heap flag to run after the failed import, got %#v", d.requests)
	}
	if !strings.HasPrefix(stderr, "[-] ERROR: Import from "+in+": configuration document is empty\n") {
		t.Fatalf("unexpected output %q", stderr)
	}
}

func TestDryRun(t *testing.T) {
	d := &fakeDriver{}
	_, stderr, err := runPiectl(t, &config.Config{}, d, "--dry-run", "-t", "0x555555555000", "-s", "0xffffffffffffffff")
	if !errors.Is(err, ErrActionsFailed) {
		t.Fatalf("expected ErrActionsFailed, got %v", err)
	}
	if len(d.opened) != 0 {
		t.Fatalf("dry run opened the device")
	}
	want := "[-] INFO: text base 0x555555555000 is within range (dry run)\n[-] ERROR: Stack base: out of range\n"
	if stderr != want {
		t.Fatalf("got %q, expected %q", stderr, want)
	}
}

func TestDeviceFromConfigAndFlag(t *testing.T) {
	d := &fakeDriver{}
	conf := &config.Config{Device: "/dev/piehook-conf"}
	if _, _, err := runPiectl(t, conf, d, "-p", "0"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runPiectl(t, conf, d, "--device", "/dev/piehook-flag", "-p", "0"); err != nil {
		t.Fatal(err)
	}
	if len(d.opened) != 2 || d.opened[0] != "/dev/piehook-conf" || d.opened[1] != "/dev/piehook-flag" {
		t.Fatalf("unexpected devices %v", d.opened)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.json")
	d := &fakeDriver{}
	if _, _, err := runPiectl(t, &config.Config{DefaultExport: path}, d, "--save", "-g", "16"); err != nil {
		t.Fatal(err)
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != `{"stackmagic":"0x10"}` {
		t.Fatalf("unexpected document %s", buf)
	}

	_, stderr, err := runPiectl(t, &config.Config{}, d, "--save")
	if !errors.Is(err, ErrActionsFailed) || !strings.Contains(stderr, "default-export") {
		t.Fatalf("expected a missing default-export error, got %v %q", err, stderr)
	}
}

func TestNoActionsPrintsHelp(t *testing.T) {
	d := &fakeDriver{}
	stdout, _, err := runPiectl(t, &config.Config{}, d)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "--stackmagic") {
		t.Fatalf("expected usage, got %q", stdout)
	}
}

func TestBadInvocations(t *testing.T) {
	for _, args := range [][]string{
		{"--bogus"},
		{"stray"},
		{"--color", "purple", "-p", "0"},
		{"--log-output", "driver", "-p", "0"},
		{"-e", ""},
	} {
		d := &fakeDriver{}
		_, _, err := runPiectl(t, &config.Config{}, d, args...)
		if err == nil || errors.Is(err, ErrActionsFailed) {
			t.Errorf("%v: expected an invocation error, got %v", args, err)
		}
		if len(d.opened) != 0 {
			t.Errorf("%v: device opened", args)
		}
	}
}

func TestUnknownFlagShowsUsage(t *testing.T) {
	_, _, err := runPiectl(t, &config.Config{}, &fakeDriver{}, "--bogus")
	if err == nil || !strings.Contains(err.Error(), "Usage:") {
		t.Fatalf("expected usage in error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	stdout, _, err := runPiectl(t, &config.Config{}, &fakeDriver{}, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout, "piectl\nVersion: ") {
		t.Fatalf("unexpected version output %q", stdout)
	}
}

func TestDryRunApplierMatchesCheck(t *testing.T) {
	for _, k := range hook.Kinds {
		for _, v := range []uint64{0, hook.TextMin, hook.HeapOffMax + 1, hook.StackTopMax + 1} {
			_, err := dryRunApplier{}.Apply(context.Background(), k, v)
			if (err == nil) != (hook.Check(k, v) == nil) {
				t.Fatalf("dry run disagrees with Check for %s %#x", k, v)
			}
		}
	}
}
