package audioio

import (
	"github.com/warthog618/go-gpiocdev"

	"github.com/ultrasync-link/ultrasync/internal/errs"
)

// Indicator drives an optional TX/RX LED pair on embedded hosts (Raspberry
// Pi and similar) so a user can see the modem transmitting or receiving
// without a screen. Entirely optional: the façade runs fine with a nil
// Indicator, it just skips the calls.
type Indicator struct {
	chip    *gpiocdev.Chip
	txLine  *gpiocdev.Line
	rxLine  *gpiocdev.Line
}

// IndicatorConfig names the gpiochip device and the two output line offsets.
type IndicatorConfig struct {
	Chip    string
	TXLine  int
	RXLine  int
}

func NewIndicator(cfg IndicatorConfig) (*Indicator, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, errs.Wrap(errs.DeviceUnavailable, "audioio.NewIndicator", err)
	}

	tx, err := chip.RequestLine(cfg.TXLine, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, errs.Wrap(errs.DeviceUnavailable, "audioio.NewIndicator", err)
	}

	rx, err := chip.RequestLine(cfg.RXLine, gpiocdev.AsOutput(0))
	if err != nil {
		tx.Close()
		chip.Close()
		return nil, errs.Wrap(errs.DeviceUnavailable, "audioio.NewIndicator", err)
	}

	return &Indicator{chip: chip, txLine: tx, rxLine: rx}, nil
}

func (ind *Indicator) SetTransmitting(on bool) {
	if ind == nil {
		return
	}
	_ = ind.txLine.SetValue(boolToLine(on))
}

func (ind *Indicator) SetReceiving(on bool) {
	if ind == nil {
		return
	}
	_ = ind.rxLine.SetValue(boolToLine(on))
}

func (ind *Indicator) Close() error {
	if ind == nil {
		return nil
	}
	_ = ind.txLine.Close()
	_ = ind.rxLine.Close()
	return ind.chip.Close()
}

func boolToLine(on bool) int {
	if on {
		return 1
	}
	return 0
}
