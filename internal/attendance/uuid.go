package attendance

// Addressing scheme shared with the attendance peripheral. Both UUIDs are built
// from the peripheral prefix, a 16-bit role id and the base suffix.
const (
	BaseUUIDSuffix   = "-5659-402b-aeb3-d2f7dcd1b999"
	PeripheralPrefix = "0000"

	PrimaryServiceID      = "0100"
	WriteCharacteristicID = "0300"

	PrimaryServiceUUID      = PeripheralPrefix + PrimaryServiceID + BaseUUIDSuffix
	WriteCharacteristicUUID = PeripheralPrefix + WriteCharacteristicID + BaseUUIDSuffix
)
