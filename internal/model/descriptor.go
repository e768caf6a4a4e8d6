package model

import (
	"fmt"
	"strings"
)

// Family identifies a controller chipset and therefore a register protocol.
type Family int

const (
	FamilyUnknown Family = iota
	// FamilyE673 is the 6-colour Spectra 7.3" controller.
	FamilyE673
	// FamilyWhat is the 2-colour wHAT controller (SSD1608 class).
	FamilyWhat
)

func (f Family) String() string {
	switch f {
	case FamilyE673:
		return "e673"
	case FamilyWhat:
		return "what"
	default:
		return "unknown"
	}
}

// ParseFamily accepts the names returned by String.
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "e673":
		return FamilyE673, nil
	case "what":
		return FamilyWhat, nil
	}
	return FamilyUnknown, fmt.Errorf("model: unknown panel family %q", s)
}

// Variant is the display variant code stored in the panel EEPROM.
type Variant uint8

// Known variant codes. Only the ones mapped by Family are drivable.
const (
	VariantRedPHATHighTemp Variant = 1
	VariantYellowWHAT      Variant = 2
	VariantBlackWHAT       Variant = 3
	VariantBlackPHAT       Variant = 4
	VariantYellowPHAT      Variant = 5
	VariantRedWHAT         Variant = 6
	VariantRedWHATHighTemp Variant = 7
	VariantRedWHATv2       Variant = 8
	VariantSevenColour     Variant = 14
	VariantE673            Variant = 22
)

// Family maps the variant code to a controller family.
func (v Variant) Family() Family {
	switch v {
	case VariantE673:
		return FamilyE673
	case VariantYellowWHAT, VariantBlackWHAT, VariantRedWHAT, VariantRedWHATHighTemp, VariantRedWHATv2:
		return FamilyWhat
	default:
		return FamilyUnknown
	}
}

// DefaultVariant returns a representative variant code for f, used when a
// descriptor is configured by family name instead of read from EEPROM.
func (f Family) DefaultVariant() Variant {
	switch f {
	case FamilyE673:
		return VariantE673
	case FamilyWhat:
		return VariantBlackWHAT
	default:
		return 0
	}
}

// Descriptor identifies the attached panel. It is read once and never
// mutated afterwards.
type Descriptor struct {
	Variant Variant `json:"variant" yaml:"variant"`
	Width   int     `json:"width" yaml:"width"`
	Height  int     `json:"height" yaml:"height"`

	// Fields below are informational and only present when read from EEPROM.
	Color      uint8  `json:"color,omitempty" yaml:"color,omitempty"`
	PCBVariant uint8  `json:"pcb_variant,omitempty" yaml:"pcb_variant,omitempty"`
	WrittenAt  string `json:"written_at,omitempty" yaml:"written_at,omitempty"`
}

func (d Descriptor) Family() Family {
	return d.Variant.Family()
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(variant=%d %dx%d)", d.Family(), d.Variant, d.Width, d.Height)
}
