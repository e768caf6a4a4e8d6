package display

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"inkpanel/internal/canvas"
	"inkpanel/internal/convert"
	"inkpanel/internal/link"
	"inkpanel/internal/model"
)

// fakeDriver counts the calls that would touch the panel.
type fakeDriver struct {
	convertErr error
	updates    int
	sends      int
}

func (d *fakeDriver) Reset() error                { return nil }
func (d *fakeDriver) Wait(time.Duration) error    { return nil }
func (d *fakeDriver) Close() error                { return nil }
func (d *fakeDriver) Send(link.Transaction) error { d.sends++; return nil }
func (d *fakeDriver) Update(buf []byte) error     { d.updates++; return nil }

func (d *fakeDriver) Convert(pixels [][]model.Color) ([]byte, error) {
	if d.convertErr != nil {
		return nil, d.convertErr
	}
	return make([]byte, len(pixels)), nil
}

func TestRenderConvertErrorTouchesNothing(t *testing.T) {
	drv := &fakeDriver{convertErr: fmt.Errorf("%w: odd row", convert.ErrFormat)}
	d := &Display{
		desc:   model.Descriptor{Variant: model.VariantE673, Width: 3, Height: 1},
		driver: drv,
		canvas: canvas.New(3, 1),
	}

	if err := d.Render(); !errors.Is(err, convert.ErrFormat) {
		t.Fatalf("Render() error = %v, want ErrFormat", err)
	}
	if drv.updates != 0 || drv.sends != 0 {
		t.Errorf("driver touched after a failed conversion: %d updates, %d sends", drv.updates, drv.sends)
	}

	drv.convertErr = nil
	if err := d.Render(); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	if drv.updates != 1 {
		t.Errorf("updates = %d, want 1", drv.updates)
	}
}
