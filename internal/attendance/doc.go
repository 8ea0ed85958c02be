// Package attendance implements the attendance session kernel.
//
// A Manager owns one session: the peripherals found by the last scan, the single
// active BLE connection, the live attendee roster and the has-attended flag.
// Callers invoke operations (StartScan, Connect, Attend, Disconnect,
// HandleRealtimeMessage) which are queued and applied by the loop started with
// Run. Transport calls complete asynchronously and feed their results back into
// the same loop, so State is only ever mutated from one goroutine.
//
// Observers call Subscribe and receive an Update for every state change,
// together with the Notice (if any) the change raised.
package attendance
