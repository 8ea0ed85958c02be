package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/bleattend/internal/device"
)

// BLEAdvertisement wraps ble.Advertisement to implement device.Advertisement interface
type BLEAdvertisement struct {
	adv ble.Advertisement
}

// NewBLEAdvertisement creates a new BLEAdvertisement wrapper
func NewBLEAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &BLEAdvertisement{adv: adv}
}

func (a *BLEAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a *BLEAdvertisement) Connectable() bool { return a.adv.Connectable() }
func (a *BLEAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a *BLEAdvertisement) Addr() string      { return a.adv.Addr().String() }

func (a *BLEAdvertisement) Services() []string {
	bleServices := a.adv.Services()
	result := make([]string, len(bleServices))
	for i, svc := range bleServices {
		result[i] = device.NormalizeUUID(svc.String())
	}
	return result
}

// toPeripheral reduces an advertisement to the fields the scan result keeps.
func toPeripheral(adv device.Advertisement) device.Peripheral {
	return device.Peripheral{
		ID:   adv.Addr(),
		Name: adv.LocalName(),
	}
}

// advertisesAny reports whether adv lists one of the wanted services.
// An empty filter matches everything.
func advertisesAny(adv device.Advertisement, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, required := range wanted {
		for _, svc := range adv.Services() {
			if svc == required {
				return true
			}
		}
	}
	return false
}
