// Package device defines the Bluetooth Low Energy (BLE) central contract used by
// the attendance kernel.
//
// It provides:
//   - Peripheral and ServiceInfo value types produced by scans and profile discovery
//   - The Transport interface (scan, connect, retrieve services, write, disconnect)
//   - A structured error taxonomy with sentinel errors for errors.Is checks
//   - UUID normalization and validation helpers
//
// Concrete transports live in sub-packages (see go-ble).
package device
