//go:build linux

package ble

import (
	"fmt"

	dbus "github.com/godbus/dbus/v5"
)

const (
	bluezService  = "org.bluez"
	adapterIface  = "org.bluez.Adapter1"
	bluezRootPath = "/org/bluez/"
)

// AdapterPowered reports whether the BlueZ adapter (e.g. "hci0") is powered on.
func AdapterPowered(adapterID string) (bool, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false, fmt.Errorf("ble: connect system bus: %w", err)
	}

	obj := conn.Object(bluezService, dbus.ObjectPath(bluezRootPath+adapterID))
	v, err := obj.GetProperty(adapterIface + ".Powered")
	if err != nil {
		return false, fmt.Errorf("ble: read %s powered: %w", adapterID, err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("ble: unexpected Powered type %s", v.Signature())
	}
	return powered, nil
}
