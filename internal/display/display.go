// Package display selects the controller driver for a panel descriptor and
// pairs it with a canvas of the panel's size.
package display

import (
	"errors"
	"fmt"
	"time"

	"inkpanel/internal/canvas"
	"inkpanel/internal/epd"
	"inkpanel/internal/link"
	appLog "inkpanel/internal/log"
	"inkpanel/internal/model"
)

// ErrUnsupportedVariant is returned when no driver handles the descriptor's
// family.
var ErrUnsupportedVariant = errors.New("display: unsupported panel variant")

// Opener acquires the link for a descriptor. link.Open bound to a
// link.Config is the production opener; tests hand out simulated links.
type Opener func(desc model.Descriptor) (*link.Link, error)

type options struct {
	e673 *epd.E673Opts
	what *epd.WhatOpts
}

// Option adjusts driver construction.
type Option func(*options)

// WithE673Opts overrides the E673 timings.
func WithE673Opts(o epd.E673Opts) Option {
	return func(opts *options) { opts.e673 = &o }
}

// WithWhatOpts overrides the wHAT timings.
func WithWhatOpts(o epd.WhatOpts) Option {
	return func(opts *options) { opts.what = &o }
}

// families maps each supported family to its driver constructor. A new
// family needs a driver in epd and one entry here.
var families = map[model.Family]func(*link.Link, options) (epd.Driver, error){
	model.FamilyE673: func(l *link.Link, o options) (epd.Driver, error) {
		return epd.NewE673(l, o.e673)
	},
	model.FamilyWhat: func(l *link.Link, o options) (epd.Driver, error) {
		return epd.NewWhat(l, o.what)
	},
}

// Display owns a driver and the canvas rendered to it. It is not safe for
// concurrent use.
type Display struct {
	desc   model.Descriptor
	driver epd.Driver
	canvas *canvas.Canvas
}

// New picks the driver for desc and opens its link with open. An unknown
// family fails with ErrUnsupportedVariant before open is called.
func New(desc model.Descriptor, open Opener, opts ...Option) (*Display, error) {
	newDriver, ok := families[desc.Family()]
	if !ok {
		return nil, fmt.Errorf("%w: variant %d", ErrUnsupportedVariant, desc.Variant)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	l, err := open(desc)
	if err != nil {
		return nil, err
	}
	d, err := newDriver(l, o)
	if err != nil {
		_ = l.Close()
		return nil, err
	}

	appLog.Info("display opened", "panel", desc.String(), "link", l.String())
	return &Display{
		desc:   desc,
		driver: d,
		canvas: canvas.New(desc.Width, desc.Height),
	}, nil
}

// Open is New over the hardware described by cfg.
func Open(desc model.Descriptor, cfg link.Config, opts ...Option) (*Display, error) {
	return New(desc, func(desc model.Descriptor) (*link.Link, error) {
		return link.Open(cfg, desc)
	}, opts...)
}

// Canvas returns the canvas Render draws from. Callers mutate it in place.
func (d *Display) Canvas() *canvas.Canvas {
	return d.canvas
}

func (d *Display) Descriptor() model.Descriptor {
	return d.desc
}

// Render converts the canvas and shows it. Errors from either step are
// returned unchanged; a conversion error leaves the panel untouched.
func (d *Display) Render() error {
	buf, err := d.driver.Convert(d.canvas.Pixels())
	if err != nil {
		return err
	}

	start := time.Now()
	if err := d.driver.Update(buf); err != nil {
		return err
	}
	appLog.Info("display rendered", "family", d.desc.Family(), "bytes", len(buf), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

// Close releases the driver and its link.
func (d *Display) Close() error {
	return d.driver.Close()
}
