package epd_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"periph.io/x/conn/v3/gpio"

	"inkpanel/internal/convert"
	"inkpanel/internal/epd"
	"inkpanel/internal/link"
	"inkpanel/internal/link/linktest"
	"inkpanel/internal/model"
)

var e673Desc = model.Descriptor{Variant: model.VariantE673, Width: 800, Height: 480}

var fastE673 = epd.E673Opts{
	ResetTimeout:    time.Millisecond,
	PowerOnTimeout:  time.Millisecond,
	RefreshTimeout:  time.Millisecond,
	PowerOffTimeout: time.Millisecond,
	DefaultTimeout:  time.Millisecond,
}

func openE673(t *testing.T, prefix string, opts epd.E673Opts) (*epd.E673, *linktest.Rig) {
	t.Helper()
	l, rig, err := linktest.Open(prefix, e673Desc)
	if err != nil {
		t.Fatalf("linktest.Open(%q) error: %v", prefix, err)
	}
	d, err := epd.NewE673(l, &opts)
	if err != nil {
		_ = l.Close()
		t.Fatalf("NewE673() error: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d, rig
}

func TestE673Update(t *testing.T) {
	d, rig := openE673(t, "e673_update", fastE673)
	// A busy line sitting high takes the level-sense path on every wait.
	rig.Busy.Set(gpio.High)

	buf := []byte{0x10, 0x23, 0x56}
	if err := d.Update(buf); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	want := []link.Transaction{
		link.WithData(0xAA, 0x49, 0x55, 0x20, 0x08, 0x09, 0x18),
		link.WithData(0x01, 0x3F),
		link.WithData(0x00, 0x5F, 0x69),
		link.WithData(0x05, 0x40, 0x1F, 0x1F, 0x2C),
		link.WithData(0x08, 0x6F, 0x1F, 0x1F, 0x22),
		link.WithData(0x06, 0x6F, 0x1F, 0x17, 0x17),
		link.WithData(0x03, 0x00, 0x54, 0x00, 0x44),
		link.WithData(0x60, 0x02, 0x00),
		link.WithData(0x30, 0x08),
		link.WithData(0x50, 0x3F),
		link.WithData(0x61, 0x03, 0x20, 0x01, 0xE0),
		link.WithData(0xE3, 0x2F),
		link.WithData(0x82, 0x01),
		link.WithData(0x10, buf...),
		link.Command(0x04),
		link.WithData(0x06, 0x6F, 0x1F, 0x17, 0x49),
		link.WithData(0x12, 0x00),
		link.WithData(0x02, 0x00),
	}
	if diff := cmp.Diff(want, rig.Bus.Transactions(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("transactions mismatch (-want +got):\n%s", diff)
	}
	if rig.Reset.Read() != gpio.High {
		t.Error("reset left asserted after Update")
	}
	if rig.Busy.Armed() {
		t.Error("busy watch left armed after Update")
	}
}

func TestE673ResetWritesConfig(t *testing.T) {
	d, rig := openE673(t, "e673_reset", fastE673)
	rig.Busy.Set(gpio.High)

	if err := d.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	got := rig.Bus.Transactions()
	if len(got) != 13 {
		t.Fatalf("Reset() sent %d transactions, want 13", len(got))
	}
	if got[0].Opcode != 0xAA || got[12].Opcode != 0x82 {
		t.Errorf("config order: first 0x%02X last 0x%02X", got[0].Opcode, got[12].Opcode)
	}
}

func TestE673LevelFallbackSleeps(t *testing.T) {
	d, rig := openE673(t, "e673_fallback", fastE673)
	rig.Busy.Set(gpio.High)

	start := time.Now()
	if err := d.Wait(30 * time.Millisecond); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Wait() returned after %v, want at least 30ms", elapsed)
	}
	// Only the idle setup from link.New: no edge was ever armed.
	if diff := cmp.Diff([]gpio.Edge{gpio.NoEdge}, rig.Busy.Arms()); diff != "" {
		t.Errorf("busy arms mismatch (-want +got):\n%s", diff)
	}
}

func TestE673WaitDefaultTimeout(t *testing.T) {
	opts := fastE673
	opts.DefaultTimeout = 20 * time.Millisecond
	d, rig := openE673(t, "e673_default", opts)
	rig.Busy.Set(gpio.High)

	start := time.Now()
	if err := d.Wait(0); err != nil {
		t.Fatalf("Wait(0) error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait(0) returned after %v, want the 20ms default", elapsed)
	}
}

func TestE673WaitEdge(t *testing.T) {
	d, rig := openE673(t, "e673_edge", fastE673)
	rig.Busy.QueueEdge(gpio.High)

	if err := d.Wait(time.Second); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	want := []gpio.Edge{gpio.NoEdge, gpio.RisingEdge, gpio.NoEdge}
	if diff := cmp.Diff(want, rig.Busy.Arms()); diff != "" {
		t.Errorf("busy arms mismatch (-want +got):\n%s", diff)
	}
}

func TestE673WaitTimeout(t *testing.T) {
	d, rig := openE673(t, "e673_timeout", fastE673)

	err := d.Wait(5 * time.Millisecond)
	if !errors.Is(err, epd.ErrBusyTimeout) {
		t.Fatalf("Wait() error = %v, want ErrBusyTimeout", err)
	}
	if rig.Busy.Armed() {
		t.Error("busy watch left armed after timeout")
	}
}

func TestE673UpdateTransferFailure(t *testing.T) {
	d, rig := openE673(t, "e673_fail", fastE673)
	rig.Busy.Set(gpio.High)
	rig.Bus.FailAt = 3
	rig.Bus.Err = errors.New("spi: EIO")

	if err := d.Update([]byte{0x11}); !errors.Is(err, link.ErrTransfer) {
		t.Fatalf("Update() error = %v, want ErrTransfer", err)
	}
	if rig.CS.Read() != gpio.High {
		t.Error("chip select left asserted after failed Update")
	}
	if n := len(rig.Bus.Writes()); n != 3 {
		t.Errorf("Update() kept writing after failure: %d writes", n)
	}
}

func TestE673Convert(t *testing.T) {
	d, _ := openE673(t, "e673_convert", fastE673)

	got, err := d.Convert([][]model.Color{
		{model.White, model.Black, model.Yellow, model.Red},
		{model.Blue, model.Green, model.White, model.White},
	})
	if err != nil {
		t.Fatalf("Convert() error: %v", err)
	}
	want := []byte{0x10, 0x23, 0x56, 0x11}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Convert() mismatch (-want +got):\n%s", diff)
	}

	if _, err := d.Convert([][]model.Color{{model.White, model.White, model.Black}}); !errors.Is(err, convert.ErrFormat) {
		t.Errorf("Convert(odd row) error = %v, want ErrFormat", err)
	}
}

func TestNewE673RejectsOtherFamily(t *testing.T) {
	l, _, err := linktest.Open("e673_wrong", whatDesc)
	if err != nil {
		t.Fatalf("linktest.Open() error: %v", err)
	}
	defer l.Close()
	if _, err := epd.NewE673(l, nil); err == nil {
		t.Fatal("NewE673() accepted a wHAT descriptor")
	}
}

func TestE673SelectSetup(t *testing.T) {
	const setup = 20 * time.Millisecond
	opts := fastE673
	opts.SelectSetup = setup
	l, rig, err := linktest.Open("e673_setup", e673Desc)
	if err != nil {
		t.Fatalf("linktest.Open() error: %v", err)
	}
	d, err := epd.NewE673(l, &opts)
	if err != nil {
		_ = l.Close()
		t.Fatalf("NewE673() error: %v", err)
	}
	defer d.Close()

	if got := l.SelectSetup(); got != setup {
		t.Errorf("SelectSetup() = %v, want %v", got, setup)
	}
	start := time.Now()
	for _, tx := range []link.Transaction{link.Command(0x04), link.WithData(0x01, 0x3F)} {
		if err := d.Send(tx); err != nil {
			t.Fatalf("Send(%v) error: %v", tx, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 2*setup {
		t.Errorf("two transactions took %v, want at least %v", elapsed, 2*setup)
	}
	if got := len(rig.Bus.Transactions()); got != 2 {
		t.Errorf("sent %d transactions, want 2", got)
	}
}

func TestNewE673RejectsBadGeometry(t *testing.T) {
	for _, size := range [][2]int{{400, 300}, {800, 479}, {480, 800}} {
		bad := e673Desc
		bad.Width, bad.Height = size[0], size[1]
		l, _, err := linktest.Open("e673_geometry", bad)
		if err != nil {
			t.Fatalf("linktest.Open() error: %v", err)
		}
		if _, err := epd.NewE673(l, nil); err == nil {
			t.Errorf("NewE673() accepted a %dx%d panel", size[0], size[1])
		}
		_ = l.Close()
	}
}
